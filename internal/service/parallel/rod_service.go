package service

import (
	"context"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/parallel"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/param"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type rodParallelService[C entity.Crawlable[D], D model.Document] struct {
	parallelCrawler parallel.ParallelCrawler
	typedEsClient   es.TypedEsClient[D]
	embedder        embedding.Embedder
	logger          *zap.Logger
}

func InitRodParallelService[C entity.Crawlable[D], D model.Document](
	parallelCrawler parallel.ParallelCrawler,
	typedEsClient es.TypedEsClient[D],
	embedder embedding.Embedder,
	logger *zap.Logger,
) ParallelService[C, D] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &rodParallelService[C, D]{
		parallelCrawler: parallelCrawler,
		typedEsClient:   typedEsClient,
		embedder:        embedder,
		logger:          logger,
	}
}

func (rps *rodParallelService[C, D]) ParallelCrawler() parallel.ParallelCrawler {
	return rps.parallelCrawler
}

func (rps *rodParallelService[C, D]) TypedEsClient() es.TypedEsClient[D] {
	return rps.typedEsClient
}

func (rps *rodParallelService[C, D]) Embedder() embedding.Embedder {
	return rps.embedder
}

func (rps *rodParallelService[C, D]) PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error {
	return rps.parallelCrawler.PerformAllUrlOperations(ctx, operations)
}

// CrawlAndIndex 任务执行和产物消费在同一个errgroup里展开
// 任务全部结束后产物通道被关闭,消费者随之退出
func (rps *rodParallelService[C, D]) CrawlAndIndex(ctx context.Context, operations []*param.UrlOperation,
	respToCrawlable func(body []byte) ([]C, error),
	htmlToCrawlable func(content *types.HtmlContent) ([]C, error)) error {

	respChs, htmlChs := gatherChannels(operations)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rps.parallelCrawler.PerformAllUrlOperations(gctx, operations)
	})
	for _, respCh := range respChs {
		g.Go(func() error {
			return rps.consumeNetworkResponses(gctx, respCh, respToCrawlable)
		})
	}
	for _, htmlCh := range htmlChs {
		g.Go(func() error {
			return rps.consumeHtmlContents(gctx, htmlCh, htmlToCrawlable)
		})
	}
	return g.Wait()
}

func (rps *rodParallelService[C, D]) Close() {
	rps.parallelCrawler.Close()
}

// gatherChannels 收集任务携带的产物通道,同一通道出现在多个任务里只消费一次
func gatherChannels(operations []*param.UrlOperation) ([]chan *types.NetworkResponse, []chan *types.HtmlContent) {
	seenResp := make(map[chan *types.NetworkResponse]struct{})
	seenHtml := make(map[chan *types.HtmlContent]struct{})
	var respChs []chan *types.NetworkResponse
	var htmlChs []chan *types.HtmlContent
	for _, op := range operations {
		if op == nil {
			continue
		}
		if op.ListenerConfig != nil && op.ListenerConfig.ListenerCh != nil {
			if _, dup := seenResp[op.ListenerConfig.ListenerCh]; !dup {
				seenResp[op.ListenerConfig.ListenerCh] = struct{}{}
				respChs = append(respChs, op.ListenerConfig.ListenerCh)
			}
		}
		if op.HtmlContentConfig != nil && op.HtmlContentConfig.HtmlContentsCh != nil {
			if _, dup := seenHtml[op.HtmlContentConfig.HtmlContentsCh]; !dup {
				seenHtml[op.HtmlContentConfig.HtmlContentsCh] = struct{}{}
				htmlChs = append(htmlChs, op.HtmlContentConfig.HtmlContentsCh)
			}
		}
	}
	return respChs, htmlChs
}

func (rps *rodParallelService[C, D]) consumeNetworkResponses(ctx context.Context, respCh chan *types.NetworkResponse,
	toCrawlable func(body []byte) ([]C, error)) error {
	for {
		select {
		case resp, ok := <-respCh:
			if !ok {
				return nil
			}
			if toCrawlable == nil {
				rps.logger.Info("收到旁路响应",
					zap.String("url", resp.Url),
					zap.String("pattern", resp.UrlPattern),
					zap.Int("bodySize", len(resp.Body)))
				continue
			}
			crawlables, err := toCrawlable(resp.Body)
			if err != nil {
				rps.logger.Warn("旁路响应解析失败", zap.String("url", resp.Url), zap.Error(err))
				continue
			}
			rps.pipelineDocs(crawlables)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (rps *rodParallelService[C, D]) consumeHtmlContents(ctx context.Context, htmlCh chan *types.HtmlContent,
	toCrawlable func(content *types.HtmlContent) ([]C, error)) error {
	for {
		select {
		case content, ok := <-htmlCh:
			if !ok {
				return nil
			}
			if toCrawlable == nil {
				rps.logger.Info("收到页面内容",
					zap.String("url", content.Url),
					zap.String("selector", content.ContentSelector),
					zap.Int("elements", len(content.Content)))
				continue
			}
			crawlables, err := toCrawlable(content)
			if err != nil {
				rps.logger.Warn("页面内容解析失败", zap.String("url", content.Url), zap.Error(err))
				continue
			}
			rps.pipelineDocs(crawlables)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (rps *rodParallelService[C, D]) pipelineDocs(crawlables []C) {
	if len(crawlables) == 0 {
		return
	}
	docs := make([]D, 0, len(crawlables))
	for _, crawlable := range crawlables {
		docs = append(docs, crawlable.ToDocument())
	}
	rps.embeddingDocs(docs)
	rps.indexDocs(docs)
}

func (rps *rodParallelService[C, D]) embeddingDocs(docs []D) {
	if len(docs) == 0 || rps.embedder == nil {
		return
	}
	batchSize := rps.embedder.BatchSize()
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	embeddingStrings := make([]string, 0, len(docs))
	for _, doc := range docs {
		embeddingStrings = append(embeddingStrings, doc.GetEmbeddingString())
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	for i := 0; i < len(embeddingStrings); i += batchSize {
		end := min(i+batchSize, len(embeddingStrings))
		embeddingVectors, err := rps.embedder.Embed(reqCtx, embeddingStrings[i:end])
		if err != nil {
			rps.logger.Error("批量嵌入失败", zap.Int("from", i), zap.Int("to", end), zap.Error(err))
			continue
		}
		for j := range embeddingVectors {
			docs[i+j].SetEmbedding(embeddingVectors[j])
			rps.logger.Debug("文档嵌入完成",
				zap.String("id", docs[i+j].GetID()),
				zap.Int("dims", len(docs[i+j].GetEmbedding())))
		}
	}
}

func (rps *rodParallelService[C, D]) indexDocs(docs []D) {
	if rps.typedEsClient == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := rps.typedEsClient.BulkIndexDocsWithID(reqCtx, docs); err != nil {
		rps.logger.Error("批量入库失败", zap.Error(err))
	}
}
