package llm

import (
	"context"
	"strconv"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
)

// LLM 对话模型的统一出口,屏蔽具体提供方
type LLM interface {
	Model() model.ToolCallingChatModel
}

type ollamaLLM struct {
	chatModel *ollama.ChatModel
}

// InitOllamaLLM 初始化Ollama对话模型
func InitOllamaLLM(ctx context.Context, cfg *config.Config) (LLM, error) {
	chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.LLM.Host + ":" + strconv.Itoa(cfg.LLM.Port),
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &ollamaLLM{chatModel: chatModel}, nil
}

func (o *ollamaLLM) Model() model.ToolCallingChatModel {
	return o.chatModel
}
