package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"
	"github.com/elastic/go-elasticsearch/v9"
	estypes "github.com/elastic/go-elasticsearch/v9/typedapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParallelCrawler struct {
	run        func(ctx context.Context, operations []*param.UrlOperation) error
	closeCalls int
}

func (f *fakeParallelCrawler) Close() { f.closeCalls++ }

func (f *fakeParallelCrawler) PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error {
	if f.run != nil {
		return f.run(ctx, operations)
	}
	return nil
}

type fakeEsClient struct {
	bulkDocs [][]*model.PageDoc
}

func (f *fakeEsClient) GetClient() *elasticsearch.TypedClient            { return nil }
func (f *fakeEsClient) CreateIndexWithMapping(ctx context.Context) error { return nil }
func (f *fakeEsClient) DeleteIndex(ctx context.Context) error            { return nil }
func (f *fakeEsClient) IndexDocWithID(ctx context.Context, doc *model.PageDoc) error {
	return nil
}

func (f *fakeEsClient) BulkIndexDocsWithID(ctx context.Context, docs []*model.PageDoc) error {
	f.bulkDocs = append(f.bulkDocs, docs)
	return nil
}

func (f *fakeEsClient) GetDoc(ctx context.Context, id string) (*model.PageDoc, error) {
	return nil, nil
}

func (f *fakeEsClient) CountDocs(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeEsClient) SearchDoc(ctx context.Context, query *estypes.Query, from, size int) ([]*model.PageDoc, int64, error) {
	return nil, 0, nil
}

func (f *fakeEsClient) UpdateDoc(ctx context.Context, doc *model.PageDoc) error { return nil }
func (f *fakeEsClient) DeleteDoc(ctx context.Context, id string) error          { return nil }
func (f *fakeEsClient) BulkDeleteDocs(ctx context.Context, ids []string) error  { return nil }

type fakeEmbedder struct {
	batchSize int
	batches   [][]string
}

func (f *fakeEmbedder) BatchSize() int { return f.batchSize }

func (f *fakeEmbedder) Embed(ctx context.Context, strings []string) ([][]float32, error) {
	f.batches = append(f.batches, strings)
	vectors := make([][]float32, len(strings))
	for i := range strings {
		vectors[i] = []float32{1}
	}
	return vectors, nil
}

func newTestParallelService(crawler *fakeParallelCrawler) (ParallelService[*entity.RenderedPage, *model.PageDoc], *fakeEsClient, *fakeEmbedder) {
	esClient := &fakeEsClient{}
	embedder := &fakeEmbedder{batchSize: 8}
	svc := InitRodParallelService[*entity.RenderedPage, *model.PageDoc](crawler, esClient, embedder, nil)
	return svc, esClient, embedder
}

func listenerOperation(url string, ch chan *types.NetworkResponse) *param.UrlOperation {
	return &param.UrlOperation{
		Url:           url,
		OperationType: param.OperationRender,
		ListenerConfig: &param.ListenerConfig{
			UrlPatterns: []string{"/api/"},
			ListenerCh:  ch,
		},
	}
}

func htmlOperation(url string, ch chan *types.HtmlContent) *param.UrlOperation {
	return &param.UrlOperation{
		Url:           url,
		OperationType: param.OperationRender,
		HtmlContentConfig: &param.HtmlContentConfig{
			ContentSelectors: []string{"article"},
			HtmlContentsCh:   ch,
		},
	}
}

func TestCrawlAndIndex_NetworkResponses(t *testing.T) {
	respCh := make(chan *types.NetworkResponse, 4)
	crawler := &fakeParallelCrawler{
		run: func(ctx context.Context, operations []*param.UrlOperation) error {
			respCh <- &types.NetworkResponse{Url: "https://example.com/api/1", UrlPattern: "/api/", Body: []byte("one")}
			respCh <- &types.NetworkResponse{Url: "https://example.com/api/2", UrlPattern: "/api/", Body: []byte("two")}
			close(respCh)
			return nil
		},
	}
	svc, esClient, embedder := newTestParallelService(crawler)

	err := svc.CrawlAndIndex(context.Background(),
		[]*param.UrlOperation{listenerOperation("https://example.com", respCh)},
		func(body []byte) ([]*entity.RenderedPage, error) {
			return []*entity.RenderedPage{{Url: "https://example.com/" + string(body), Content: string(body)}}, nil
		},
		nil)

	require.NoError(t, err)
	require.Len(t, esClient.bulkDocs, 2)
	assert.Len(t, esClient.bulkDocs[0], 1)
	assert.Len(t, embedder.batches, 2)
	for _, docs := range esClient.bulkDocs {
		for _, doc := range docs {
			assert.NotEmpty(t, doc.GetEmbedding())
		}
	}
}

func TestCrawlAndIndex_HtmlContents(t *testing.T) {
	htmlCh := make(chan *types.HtmlContent, 2)
	crawler := &fakeParallelCrawler{
		run: func(ctx context.Context, operations []*param.UrlOperation) error {
			htmlCh <- &types.HtmlContent{
				Url:             "https://example.com/page",
				ContentSelector: "article",
				Content:         []string{"<p>alpha</p>", "<p>beta</p>"},
			}
			close(htmlCh)
			return nil
		},
	}
	svc, esClient, _ := newTestParallelService(crawler)

	err := svc.CrawlAndIndex(context.Background(),
		[]*param.UrlOperation{htmlOperation("https://example.com/page", htmlCh)},
		nil,
		func(content *types.HtmlContent) ([]*entity.RenderedPage, error) {
			pages := make([]*entity.RenderedPage, 0, len(content.Content))
			for _, html := range content.Content {
				pages = append(pages, &entity.RenderedPage{Url: content.Url, Content: html})
			}
			return pages, nil
		})

	require.NoError(t, err)
	require.Len(t, esClient.bulkDocs, 1)
	assert.Len(t, esClient.bulkDocs[0], 2)
}

func TestCrawlAndIndex_NilConverterLogsOnly(t *testing.T) {
	respCh := make(chan *types.NetworkResponse, 1)
	crawler := &fakeParallelCrawler{
		run: func(ctx context.Context, operations []*param.UrlOperation) error {
			respCh <- &types.NetworkResponse{Url: "https://example.com/api/1", Body: []byte("ignored")}
			close(respCh)
			return nil
		},
	}
	svc, esClient, _ := newTestParallelService(crawler)

	err := svc.CrawlAndIndex(context.Background(),
		[]*param.UrlOperation{listenerOperation("https://example.com", respCh)}, nil, nil)

	require.NoError(t, err)
	assert.Empty(t, esClient.bulkDocs)
}

func TestCrawlAndIndex_ConverterErrorSkipsDoc(t *testing.T) {
	respCh := make(chan *types.NetworkResponse, 2)
	crawler := &fakeParallelCrawler{
		run: func(ctx context.Context, operations []*param.UrlOperation) error {
			respCh <- &types.NetworkResponse{Url: "https://example.com/api/bad", Body: []byte("bad")}
			respCh <- &types.NetworkResponse{Url: "https://example.com/api/good", Body: []byte("good")}
			close(respCh)
			return nil
		},
	}
	svc, esClient, _ := newTestParallelService(crawler)

	err := svc.CrawlAndIndex(context.Background(),
		[]*param.UrlOperation{listenerOperation("https://example.com", respCh)},
		func(body []byte) ([]*entity.RenderedPage, error) {
			if string(body) == "bad" {
				return nil, fmt.Errorf("unparseable payload")
			}
			return []*entity.RenderedPage{{Url: "https://example.com/good"}}, nil
		},
		nil)

	require.NoError(t, err)
	require.Len(t, esClient.bulkDocs, 1)
}

func TestCrawlAndIndex_CrawlerErrorPropagates(t *testing.T) {
	respCh := make(chan *types.NetworkResponse)
	crawler := &fakeParallelCrawler{
		run: func(ctx context.Context, operations []*param.UrlOperation) error {
			close(respCh)
			return fmt.Errorf("2 errors occurred")
		},
	}
	svc, _, _ := newTestParallelService(crawler)

	err := svc.CrawlAndIndex(context.Background(),
		[]*param.UrlOperation{listenerOperation("https://example.com", respCh)}, nil, nil)

	require.Error(t, err)
	assert.ErrorContains(t, err, "2 errors occurred")
}

func TestGatherChannels_Dedup(t *testing.T) {
	respCh := make(chan *types.NetworkResponse)
	htmlCh := make(chan *types.HtmlContent)
	operations := []*param.UrlOperation{
		nil,
		listenerOperation("https://example.com/a", respCh),
		listenerOperation("https://example.com/b", respCh),
		htmlOperation("https://example.com/c", htmlCh),
		{Url: "https://example.com/d", OperationType: param.OperationRender},
	}

	respChs, htmlChs := gatherChannels(operations)

	assert.Len(t, respChs, 1)
	assert.Len(t, htmlChs, 1)
}

func TestParallelServiceClose(t *testing.T) {
	crawler := &fakeParallelCrawler{}
	svc, _, _ := newTestParallelService(crawler)

	svc.Close()

	assert.Equal(t, 1, crawler.closeCalls)
}
