package service

import (
	"context"

	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/parallel"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/param"
)

// ParallelService 并行渲染服务
// 一批URL任务在浏览器池上并行执行,旁路响应和页面内容经转换后走嵌入入库流水线
type ParallelService[C entity.Crawlable[D], D model.Document] interface {
	ParallelCrawler() parallel.ParallelCrawler
	TypedEsClient() es.TypedEsClient[D]
	Embedder() embedding.Embedder

	// PerformAllUrlOperations 只执行URL任务,产物通道由调用方自行消费
	PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error

	// CrawlAndIndex 执行URL任务并消费全部产物通道
	// 转换函数为nil时对应产物只记录日志,任务和消费者中任何一方出错都会取消另一方
	CrawlAndIndex(ctx context.Context, operations []*param.UrlOperation,
		respToCrawlable func(body []byte) ([]C, error),
		htmlToCrawlable func(content *types.HtmlContent) ([]C, error)) error

	Close()
}
