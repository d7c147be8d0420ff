package model

import (
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
)

const PageIndexName = "rendered_pages"

// EmbeddingDims 与Embedder产出的向量维度保持一致
const EmbeddingDims = 1024

// PageDoc 渲染后页面在Elasticsearch中的文档形态
type PageDoc struct {
	ID          string    `json:"id"`
	Url         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Links       []string  `json:"links"`
	Status      int       `json:"status"`
	CrawledAt   time.Time `json:"crawled_at"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func (pd *PageDoc) GetID() string {
	return pd.ID
}

func (pd *PageDoc) GetIndex() string {
	return PageIndexName
}

func (pd *PageDoc) GetTypeMapping() *types.TypeMapping {
	dims := EmbeddingDims
	similarity := "cosine"
	embedding := types.NewDenseVectorProperty()
	embedding.Dims = &dims
	embedding.Similarity = &similarity

	return &types.TypeMapping{
		Properties: map[string]types.Property{
			"id":          types.NewKeywordProperty(),
			"url":         types.NewKeywordProperty(),
			"title":       types.NewTextProperty(),
			"description": types.NewTextProperty(),
			"content":     types.NewTextProperty(),
			"links":       types.NewKeywordProperty(),
			"status":      types.NewIntegerNumberProperty(),
			"crawled_at":  types.NewDateProperty(),
			"embedding":   embedding,
		},
	}
}

// GetEmbeddingString 拼接参与向量化的文本
func (pd *PageDoc) GetEmbeddingString() string {
	return fmt.Sprintf("%s\n%s\n%s", pd.Title, pd.Description, pd.Content)
}

func (pd *PageDoc) SetEmbedding(embedding []float32) {
	pd.Embedding = embedding
}

func (pd *PageDoc) GetEmbedding() []float32 {
	return pd.Embedding
}
