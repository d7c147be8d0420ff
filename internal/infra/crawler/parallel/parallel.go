package parallel

import (
	"context"

	"github.com/LouYuanbo1/renderbridge/param"
)

// ParallelCrawler 并行执行一批URL任务,任务产出通过各自配置的管道送出
// 所有任务完成后输出管道会被关闭,消费方以range读取即可
type ParallelCrawler interface {
	Close()
	PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error
}
