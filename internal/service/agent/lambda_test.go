package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMode(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "es rag prefix", query: "查询模式 渲染服务的超时时间是多少", want: modeEsRAG},
		{name: "es rag alternate prefix", query: "搜索模式 页面内容", want: modeEsRAG},
		{name: "web search prefix", query: "联网模式 最新的浏览器版本", want: modeWebSearch},
		{name: "plain chat", query: "你好", want: modeChat},
		{name: "prefix in the middle does not count", query: "请进入查询模式", want: modeChat},
		{name: "empty query", query: "", want: modeChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMode(tt.query))
		})
	}
}

func TestBranchCondition(t *testing.T) {
	tests := []struct {
		name    string
		state   map[string]any
		want    string
		wantErr bool
	}{
		{name: "es rag mode", state: map[string]any{"mode": modeEsRAG}, want: "esRetriever"},
		{name: "web search mode", state: map[string]any{"mode": modeWebSearch}, want: "webSearch"},
		{name: "chat mode", state: map[string]any{"mode": modeChat}, want: "chatModePrompt"},
		{name: "unknown mode falls back to chat", state: map[string]any{"mode": "something"}, want: "chatModePrompt"},
		{name: "missing mode", state: map[string]any{}, wantErr: true},
		{name: "mode with wrong type", state: map[string]any{"mode": 42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BranchCondition(context.Background(), tt.state)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
