package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/elastic/go-elasticsearch/v9/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
)

const (
	modeEsRAG     = "esRAG"
	modeWebSearch = "webSearch"
	modeChat      = "chat"
)

// detectMode 以查询模式或搜索模式开头的输入走ES检索,以联网模式开头的输入走DuckDuckGo搜索,其余直接对话
func detectMode(query string) string {
	switch {
	case strings.HasPrefix(query, "查询模式") || strings.HasPrefix(query, "搜索模式"):
		return modeEsRAG
	case strings.HasPrefix(query, "联网模式"):
		return modeWebSearch
	default:
		return modeChat
	}
}

// IntentDetection 意图检测节点
func IntentDetection() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, state map[string]any) (map[string]any, error) {
		query, ok := state["query"].(string)
		if !ok {
			return nil, errors.New("query not found in state")
		}
		state["mode"] = detectMode(query)
		return state, nil
	})
}

// BranchCondition 根据意图选择下一个节点
func BranchCondition(ctx context.Context, state map[string]any) (string, error) {
	mode, ok := state["mode"].(string)
	if !ok {
		return "", errors.New("mode not found in state")
	}
	switch mode {
	case modeEsRAG:
		return "esRetriever", nil
	case modeWebSearch:
		return "webSearch", nil
	default:
		return "chatModePrompt", nil
	}
}

// EsRetriever 检索节点,对查询做向量化后在索引上执行kNN检索
// 命中的文档以JSON原文拼进referenceDocs供提示模板引用
func EsRetriever() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, state map[string]any) (map[string]any, error) {
		query, ok := state["query"].(string)
		if !ok {
			return nil, errors.New("query not found in state")
		}
		err := compose.ProcessState(ctx, func(ctx context.Context, s *State) error {
			embeddings, err := s.Embedder.Embed(ctx, []string{query})
			if err != nil {
				return fmt.Errorf("查询向量化失败: %w", err)
			}
			if len(embeddings) == 0 {
				return errors.New("查询向量化结果为空")
			}
			embedding := embeddings[0]
			K := 5
			numCandidates := 100
			searchResp, err := s.TypedEsClient.Search().Index(s.IndexName).
				Request(&search.Request{
					Knn: []types.KnnSearch{
						{
							Field:         "embedding",
							QueryVector:   embedding,
							K:             &K,
							NumCandidates: &numCandidates,
						},
					},
				}).Do(ctx)
			if err != nil {
				return fmt.Errorf("kNN检索失败: %w", err)
			}
			var builder strings.Builder
			builder.WriteString("参考文档(JSON格式):\n\n")
			for i, hit := range searchResp.Hits.Hits {
				builder.WriteString(fmt.Sprintf("文档%d:\n", i+1))
				builder.Write(hit.Source_)
				builder.WriteString("\n\n")
			}
			state["referenceDocs"] = builder.String()
			return nil
		})
		if err != nil {
			return nil, err
		}
		return state, nil
	})
}

// WebSearch 联网搜索节点,DuckDuckGo的结果拼进searchResults供提示模板引用
func WebSearch() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, state map[string]any) (map[string]any, error) {
		query, ok := state["query"].(string)
		if !ok {
			return nil, errors.New("query not found in state")
		}
		err := compose.ProcessState(ctx, func(ctx context.Context, s *State) error {
			if s.SearchTool == nil {
				return errors.New("search tool not configured")
			}
			reqCtx := ctx
			if s.SearchTimeout > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(ctx, s.SearchTimeout)
				defer cancel()
			}
			results, err := s.SearchTool.InvokableRun(reqCtx, fmt.Sprintf(`{"query": %q}`, query))
			if err != nil {
				return fmt.Errorf("联网搜索失败: %w", err)
			}
			state["searchResults"] = results
			return nil
		})
		if err != nil {
			return nil, err
		}
		return state, nil
	})
}
