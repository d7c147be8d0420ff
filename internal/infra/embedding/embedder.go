package embedding

import "context"

// 所有的嵌入器实现要满足这个接口
type Embedder interface {
	// BatchSize 返回单次嵌入的最大文本数
	BatchSize() int
	// Embed 将一批文本转换为向量表示
	Embed(ctx context.Context, strings []string) ([][]float32, error)
}
