package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/llm"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/param"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v9"
	"go.uber.org/zap"
)

// State 流程图的全局状态,检索和搜索节点通过ProcessState读取
type State struct {
	IndexName     string
	TypedEsClient *elasticsearch.TypedClient
	Embedder      embedding.Embedder
	SearchTool    tool.InvokableTool
	SearchTimeout time.Duration
}

// AgentService 基于爬取内容的问答服务
// 查询按意图走三条路径:ES向量检索增强,DuckDuckGo联网搜索增强,或直接对话
type AgentService[D model.Document] interface {
	Invoke(ctx context.Context, query string) (string, error)
	Stream(ctx context.Context, query string, out io.Writer) error
}

type agentService[D model.Document] struct {
	llm      llm.LLM
	es       es.TypedEsClient[D]
	embedder embedding.Embedder
	graph    compose.Runnable[map[string]any, map[string]any]
	logger   *zap.Logger
}

func InitAgentService[D model.Document](
	ctx context.Context,
	llm llm.LLM,
	es es.TypedEsClient[D],
	embedder embedding.Embedder,
	params *param.Agent,
	logger *zap.Logger,
) (AgentService[D], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	graph, err := initAgentGraph(ctx, llm, es, embedder, params)
	if err != nil {
		return nil, fmt.Errorf("创建流程图失败: %w", err)
	}
	logger.Info("Agent流程图编译完成", zap.String("index", params.IndexName))
	return &agentService[D]{llm: llm, es: es, embedder: embedder, graph: graph, logger: logger}, nil
}

// initAgentGraph 组装流程图
// intentDetection分流后,检索类节点先充实状态再进入对应的提示模板,最后汇聚到同一个模型节点
func initAgentGraph[D model.Document](
	ctx context.Context,
	llm llm.LLM,
	typedEsClient es.TypedEsClient[D],
	embedder embedding.Embedder,
	params *param.Agent,
) (compose.Runnable[map[string]any, map[string]any], error) {
	searchTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		Region:     params.DuckDuckGoSearch.Region,
		MaxResults: params.DuckDuckGoSearch.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("创建搜索工具失败: %w", err)
	}

	// State包含索引名称,TypedEsClient,Embedder和搜索工具等状态信息
	genState := func(ctx context.Context) *State {
		return &State{
			IndexName:     params.IndexName,
			TypedEsClient: typedEsClient.GetClient(),
			Embedder:      embedder,
			SearchTool:    searchTool,
			SearchTimeout: params.DuckDuckGoSearch.Timeout,
		}
	}

	graph := compose.NewGraph[map[string]any, map[string]any](compose.WithGenLocalState(genState))
	// 意图检测节点,根据查询前缀决定走检索,联网搜索还是直接对话
	if err := graph.AddLambdaNode("intentDetection", IntentDetection()); err != nil {
		return nil, fmt.Errorf("添加意图检测节点失败: %w", err)
	}
	// 检索节点,用查询向量在索引上做kNN检索
	if err := graph.AddLambdaNode("esRetriever", EsRetriever()); err != nil {
		return nil, fmt.Errorf("添加检索节点失败: %w", err)
	}
	// 联网搜索节点,通过DuckDuckGo补充索引之外的信息
	if err := graph.AddLambdaNode("webSearch", WebSearch()); err != nil {
		return nil, fmt.Errorf("添加联网搜索节点失败: %w", err)
	}
	if err := graph.AddChatTemplateNode("esRAGPrompt", params.Prompt[param.PromptEsRAGMode]); err != nil {
		return nil, fmt.Errorf("添加检索提示节点失败: %w", err)
	}
	if err := graph.AddChatTemplateNode("webSearchPrompt", params.Prompt[param.PromptWebSearchMode]); err != nil {
		return nil, fmt.Errorf("添加搜索提示节点失败: %w", err)
	}
	if err := graph.AddChatTemplateNode("chatModePrompt", params.Prompt[param.PromptChatMode]); err != nil {
		return nil, fmt.Errorf("添加对话提示节点失败: %w", err)
	}
	if err := graph.AddChatModelNode("llm", llm.Model(), compose.WithOutputKey("finalResponse")); err != nil {
		return nil, fmt.Errorf("添加模型节点失败: %w", err)
	}

	if err := graph.AddEdge(compose.START, "intentDetection"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddBranch("intentDetection", compose.NewGraphBranch(BranchCondition, map[string]bool{
		"esRetriever":    true,
		"webSearch":      true,
		"chatModePrompt": true,
	})); err != nil {
		return nil, fmt.Errorf("添加分支失败: %w", err)
	}
	if err := graph.AddEdge("esRetriever", "esRAGPrompt"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddEdge("webSearch", "webSearchPrompt"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddEdge("esRAGPrompt", "llm"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddEdge("webSearchPrompt", "llm"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddEdge("chatModePrompt", "llm"); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	if err := graph.AddEdge("llm", compose.END); err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	compiledGraph, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("编译流程图失败: %w", err)
	}
	return compiledGraph, nil
}

func (as *agentService[D]) Invoke(ctx context.Context, query string) (string, error) {
	result, err := as.graph.Invoke(ctx, map[string]any{
		"query": query,
	})
	if err != nil {
		return "", fmt.Errorf("执行流程图失败: %w", err)
	}
	finalResponse, ok := result["finalResponse"].(*schema.Message)
	if !ok {
		return "", errors.New("流程图没有产出最终回复")
	}
	return finalResponse.Content, nil
}

func (as *agentService[D]) Stream(ctx context.Context, query string, out io.Writer) error {
	result, err := as.graph.Stream(ctx, map[string]any{
		"query": query,
	})
	if err != nil {
		return fmt.Errorf("执行流程图失败: %w", err)
	}
	defer result.Close()

	for {
		chunk, err := result.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(out, "\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("接收流式回复失败: %w", err)
		}
		if msg, ok := chunk["finalResponse"].(*schema.Message); ok {
			fmt.Fprint(out, msg.Content)
		}
	}
}
