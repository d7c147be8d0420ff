package main

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/llm"
	"github.com/LouYuanbo1/renderbridge/internal/infra/logging"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/internal/service/agent"
	"github.com/LouYuanbo1/renderbridge/param"
	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//使用go:embed嵌入appconfig.json文件
//下方注释重要,不能删除
//在实际使用时，注意与文件名的对应，Github上保存的appconfig_example.json文件为样例，以实际为准,比如我这里是appconfig.json
//When using it in practice, pay attention to the correspondence between the filename and the actual filename.
//The appconfig_example.json file saved on GitHub is just an example;
//use your own file, for example, mine is appconfig.json.

//go:embed appconfig/appconfig.json
var appConfig []byte

func main() {
	appcfg, err := config.ParseConfig(appConfig)
	if err != nil {
		log.Fatalf("解析配置失败: %v", err)
	}
	logger, err := logging.InitLogger(appcfg.Log.Env, appcfg.Log.Level)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	//运行前确保es和ollama服务启动完成
	esPageClient, err := es.InitTypedEsClient[*model.PageDoc](appcfg, logger)
	if err != nil {
		log.Fatalf("初始化Elasticsearch客户端失败: %v", err)
	}

	embedder, err := embedding.InitEmbedder(ctx, appcfg)
	if err != nil {
		log.Fatalf("初始化Embedder失败: %v", err)
	}

	ollamaLLM, err := llm.InitOllamaLLM(ctx, appcfg)
	if err != nil {
		log.Fatalf("初始化LLM失败: %v", err)
	}

	agentParams := &param.Agent{
		IndexName: appcfg.Agent.IndexName,
		Prompt: map[param.PromptType]*prompt.DefaultChatTemplate{
			param.PromptEsRAGMode: prompt.FromMessages(schema.FString,
				schema.SystemMessage("你是一个知识助手。下面的参考文档来自已爬取渲染的页面,回答时优先引用其中的内容,不要编造。\n\n{referenceDocs}"),
				schema.UserMessage("{query}"),
			),
			param.PromptWebSearchMode: prompt.FromMessages(schema.FString,
				schema.SystemMessage("你是一个知识助手。下面是联网搜索的结果,回答时结合这些结果并注明信息可能有时效性。\n\n{searchResults}"),
				schema.UserMessage("{query}"),
			),
			param.PromptChatMode: prompt.FromMessages(schema.FString,
				schema.SystemMessage("你是一个友好的助手,用简体中文回答。"),
				schema.UserMessage("{query}"),
			),
		},
		DuckDuckGoSearch: param.SearchConfig{
			MaxResults: appcfg.Agent.SearchMaxResults,
			Region:     duckduckgo.Region(appcfg.Agent.SearchRegion),
			Timeout:    time.Duration(appcfg.Agent.SearchTimeoutSeconds) * time.Second,
		},
	}

	agentService, err := agent.InitAgentService[*model.PageDoc](
		ctx, ollamaLLM, esPageClient, embedder, agentParams, logger)
	if err != nil {
		log.Fatalf("初始化Agent服务失败: %v", err)
	}

	fmt.Println("输入问题开始对话,前缀决定模式:")
	fmt.Println("  查询模式/搜索模式  在已爬取的页面索引上做向量检索")
	fmt.Println("  联网模式          通过DuckDuckGo联网搜索")
	fmt.Println("  其他输入          直接对话,输入exit退出")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" {
			break
		}
		if err := agentService.Stream(ctx, query, os.Stdout); err != nil {
			log.Printf("对话失败: %v", err)
		}
	}
}
