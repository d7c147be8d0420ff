package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/collector/option"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/internal/service/crawler/param"
	"github.com/LouYuanbo1/renderbridge/internal/service/render"
	renderparam "github.com/LouYuanbo1/renderbridge/param"
	"github.com/elastic/go-elasticsearch/v9"
	estypes "github.com/elastic/go-elasticsearch/v9/typedapi/types"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollyCrawler struct {
	visited     []string
	visitErr    error
	waitCalls   int
	responseCbs []func(r *colly.Response)
	htmlCbs     map[string]func(e *colly.HTMLElement)
	scrapedCbs  []func(r *colly.Response)
}

func newFakeCollyCrawler() *fakeCollyCrawler {
	return &fakeCollyCrawler{htmlCbs: make(map[string]func(e *colly.HTMLElement))}
}

func (f *fakeCollyCrawler) Visit(url string) error {
	if f.visitErr != nil {
		return f.visitErr
	}
	f.visited = append(f.visited, url)
	return nil
}

func (f *fakeCollyCrawler) Wait() { f.waitCalls++ }

func (f *fakeCollyCrawler) OnRequest(options option.CollyRequest, callback func(r *colly.Request)) {
}

func (f *fakeCollyCrawler) OnResponse(callback func(r *colly.Response)) {
	f.responseCbs = append(f.responseCbs, callback)
}

func (f *fakeCollyCrawler) OnHTML(selector string, callback func(e *colly.HTMLElement)) {
	f.htmlCbs[selector] = callback
}

func (f *fakeCollyCrawler) OnScraped(callback func(r *colly.Response)) {
	f.scrapedCbs = append(f.scrapedCbs, callback)
}

func (f *fakeCollyCrawler) OnError(callback func(r *colly.Response, err error)) {}

func (f *fakeCollyCrawler) fireResponse(r *colly.Response) {
	for _, cb := range f.responseCbs {
		cb(r)
	}
}

func (f *fakeCollyCrawler) fireScraped(r *colly.Response) {
	for _, cb := range f.scrapedCbs {
		cb(r)
	}
}

type fakeRenderService struct {
	requests   []*renderparam.RenderRequest
	response   *types.RenderResponse
	err        error
	driver     chrome.Driver
	closeCalls int
}

func (f *fakeRenderService) ProcessRequest(ctx context.Context, request *renderparam.RenderRequest) (*types.RenderResponse, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeRenderService) Driver() chrome.Driver { return f.driver }

func (f *fakeRenderService) Close() { f.closeCalls++ }

type fakeEsClient struct {
	bulkDocs [][]*model.PageDoc
	bulkErr  error
}

func (f *fakeEsClient) GetClient() *elasticsearch.TypedClient             { return nil }
func (f *fakeEsClient) CreateIndexWithMapping(ctx context.Context) error  { return nil }
func (f *fakeEsClient) DeleteIndex(ctx context.Context) error             { return nil }
func (f *fakeEsClient) IndexDocWithID(ctx context.Context, doc *model.PageDoc) error {
	return nil
}

func (f *fakeEsClient) BulkIndexDocsWithID(ctx context.Context, docs []*model.PageDoc) error {
	if f.bulkErr != nil {
		return f.bulkErr
	}
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
	err       error
}

func (f *fakeEmbedder) BatchSize() int { return f.batchSize }

func (f *fakeEmbedder) Embed(ctx context.Context, strings []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, strings)
	vectors := make([][]float32, len(strings))
	for i := range strings {
		vectors[i] = []float32{float32(len(strings[i]))}
	}
	return vectors, nil
}

type fakeActionDriver struct {
	html            string
	htmlErr         error
	scrollCalls     int
	listenerPattern string
	listenerCalls   int
	actionErr       error
}

func (f *fakeActionDriver) PageContext() context.Context { return context.Background() }
func (f *fakeActionDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return nil
}
func (f *fakeActionDriver) SetCookies(url string, cookies []*types.Cookie) error { return nil }
func (f *fakeActionDriver) Wait(ctx context.Context, cond *renderparam.WaitCondition) error {
	return nil
}
func (f *fakeActionDriver) Eval(ctx context.Context, fnSource string) (any, error) {
	return nil, nil
}
func (f *fakeActionDriver) Screenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeActionDriver) HTML(ctx context.Context) (string, error) {
	return f.html, f.htmlErr
}
func (f *fakeActionDriver) Location(ctx context.Context) (string, error) { return "", nil }
func (f *fakeActionDriver) Title(ctx context.Context) (string, error)    { return "", nil }
func (f *fakeActionDriver) LastStatus() int                              { return 200 }
func (f *fakeActionDriver) PerformClick(selector string, clickCount, standardSleepSeconds, randomDelaySeconds int) error {
	return f.actionErr
}
func (f *fakeActionDriver) PerformScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds int) error {
	f.scrollCalls++
	return f.actionErr
}
func (f *fakeActionDriver) SetNetworkListener(urlPattern string, respChan chan []types.NetworkResponse) {
	f.listenerPattern = urlPattern
	f.listenerCalls++
}
func (f *fakeActionDriver) Close() {}

func crawlConfig(patterns []string, fallbackToStatic bool) *config.Config {
	cfg := &config.Config{}
	cfg.Render.Patterns = patterns
	cfg.Render.FallbackToStatic = fallbackToStatic
	return cfg
}

func newTestCrawlService(cfg *config.Config) (*crawlService[*entity.RenderedPage, *model.PageDoc], *fakeCollyCrawler, *fakeRenderService, *fakeEsClient, *fakeEmbedder) {
	crawler := newFakeCollyCrawler()
	renderSvc := &fakeRenderService{}
	esClient := &fakeEsClient{}
	embedder := &fakeEmbedder{batchSize: 2}
	svc := InitCrawlService[*entity.RenderedPage, *model.PageDoc](
		cfg, crawler, renderSvc, esClient, embedder, 4, 2, nil)
	return svc.(*crawlService[*entity.RenderedPage, *model.PageDoc]), crawler, renderSvc, esClient, embedder
}

func newTestResponse(rawUrl string, status int, body string, contentType string) *colly.Response {
	u, err := url.Parse(rawUrl)
	if err != nil {
		panic(err)
	}
	ctx := colly.NewContext()
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	return &colly.Response{
		StatusCode: status,
		Body:       []byte(body),
		Ctx:        ctx,
		Headers:    &headers,
		Request: &colly.Request{
			URL: u,
			Ctx: ctx,
		},
	}
}

func TestMarkForRender(t *testing.T) {
	ctx := colly.NewContext()
	request := &colly.Request{Ctx: ctx}

	MarkForRender(request)

	assert.Equal(t, "1", ctx.Get(RenderFlagKey))
}

func TestShouldRender(t *testing.T) {
	tests := []struct {
		name        string
		patterns    []string
		marked      bool
		url         string
		contentType string
		want        bool
	}{
		{
			name: "no patterns and unmarked",
			url:  "https://example.com/page",
			want: false,
		},
		{
			name:        "marked request renders regardless of content type",
			marked:      true,
			url:         "https://example.com/api/data",
			contentType: "application/json",
			want:        true,
		},
		{
			name:        "wildcard pattern matches html",
			patterns:    []string{"*"},
			url:         "https://example.com/page",
			contentType: "text/html; charset=utf-8",
			want:        true,
		},
		{
			name:        "wildcard pattern skips non html",
			patterns:    []string{"*"},
			url:         "https://example.com/feed",
			contentType: "application/json",
			want:        false,
		},
		{
			name:        "substring pattern matches url",
			patterns:    []string{"/detail/"},
			url:         "https://example.com/item/detail/42",
			contentType: "text/html",
			want:        true,
		},
		{
			name:        "substring pattern does not match",
			patterns:    []string{"/detail/"},
			url:         "https://example.com/list",
			contentType: "text/html",
			want:        false,
		},
		{
			name:     "missing content type is treated as html",
			patterns: []string{"*"},
			url:      "https://example.com/page",
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _, _ := newTestCrawlService(crawlConfig(tt.patterns, false))
			r := newTestResponse(tt.url, 200, "<html></html>", tt.contentType)
			if tt.marked {
				MarkForRender(r.Request)
			}

			assert.Equal(t, tt.want, svc.shouldRender(r))
		})
	}
}

func TestCrawl(t *testing.T) {
	svc, crawler, _, _, _ := newTestCrawlService(crawlConfig(nil, false))

	err := svc.Crawl(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com"}, crawler.visited)
	assert.Equal(t, 1, crawler.waitCalls)
}

func TestCrawl_VisitError(t *testing.T) {
	svc, crawler, _, _, _ := newTestCrawlService(crawlConfig(nil, false))
	crawler.visitErr = fmt.Errorf("forbidden domain")

	err := svc.Crawl(context.Background(), "https://blocked.example.com")

	require.Error(t, err)
	assert.ErrorContains(t, err, "forbidden domain")
	assert.Zero(t, crawler.waitCalls)
}

func TestDefaultStrategy_Validation(t *testing.T) {
	tests := []struct {
		name   string
		params *param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]
	}{
		{name: "nil params"},
		{
			name: "missing selector",
			params: &param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
				HTMLFunc: func(e *colly.HTMLElement) error { return nil },
			},
		},
		{
			name: "missing html func",
			params: &param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
				Selector: "body",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, crawler, _, _, _ := newTestCrawlService(crawlConfig(nil, false))

			err := svc.DefaultStrategy(tt.params)

			require.Error(t, err)
			assert.Empty(t, crawler.htmlCbs)
		})
	}
}

func TestDefaultStrategy_RendersMatchingResponses(t *testing.T) {
	svc, crawler, renderSvc, _, _ := newTestCrawlService(crawlConfig([]string{"*"}, false))
	renderSvc.response = &types.RenderResponse{
		Url:    "https://example.com/page?lang=en",
		Status: 200,
		Body:   []byte("<html><body>rendered</body></html>"),
	}
	err := svc.DefaultStrategy(&param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		RenderTemplate: &renderparam.RenderRequest{
			TimeoutSeconds: 15,
			Screenshot:     true,
		},
		Selector: "body",
		HTMLFunc: func(e *colly.HTMLElement) error { return nil },
	})
	require.NoError(t, err)

	r := newTestResponse("https://example.com/page", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(r)

	require.Len(t, renderSvc.requests, 1)
	sent := renderSvc.requests[0]
	assert.Equal(t, "https://example.com/page", sent.Url)
	assert.Equal(t, 15, sent.TimeoutSeconds)
	assert.True(t, sent.Screenshot)

	assert.Equal(t, []byte("<html><body>rendered</body></html>"), r.Body)
	rendered, ok := r.Ctx.GetAny(RenderedResponseKey).(*types.RenderResponse)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/page?lang=en", rendered.Url)
}

func TestDefaultStrategy_PassThrough(t *testing.T) {
	svc, crawler, renderSvc, _, _ := newTestCrawlService(crawlConfig(nil, false))
	err := svc.DefaultStrategy(&param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		Selector:         "body",
		HTMLFunc:         func(e *colly.HTMLElement) error { return nil },
	})
	require.NoError(t, err)

	r := newTestResponse("https://example.com/page", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(r)

	assert.Empty(t, renderSvc.requests)
	assert.Equal(t, []byte("<html>static</html>"), r.Body)
}

func TestRenderTimeout_DropsResponse(t *testing.T) {
	svc, crawler, renderSvc, _, _ := newTestCrawlService(crawlConfig([]string{"*"}, false))
	renderSvc.err = fmt.Errorf("%w: %s", render.ErrRenderTimeout, "https://example.com/slow")
	err := svc.DefaultStrategy(&param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		Selector:         "body",
		HTMLFunc:         func(e *colly.HTMLElement) error { return nil },
	})
	require.NoError(t, err)

	r := newTestResponse("https://example.com/slow", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(r)

	assert.Empty(t, r.Body)
}

func TestRenderFailure_FallbackToStatic(t *testing.T) {
	svc, crawler, renderSvc, _, _ := newTestCrawlService(crawlConfig([]string{"*"}, true))
	renderSvc.err = fmt.Errorf("browser crashed")
	err := svc.DefaultStrategy(&param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		Selector:         "body",
		HTMLFunc:         func(e *colly.HTMLElement) error { return nil },
	})
	require.NoError(t, err)

	r := newTestResponse("https://example.com/page", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(r)

	assert.Equal(t, []byte("<html>static</html>"), r.Body)
}

func TestCustomStrategy_DriverActions(t *testing.T) {
	svc, crawler, renderSvc, _, _ := newTestCrawlService(crawlConfig([]string{"*"}, false))
	driver := &fakeActionDriver{html: "<html>after actions</html>"}
	renderSvc.driver = driver
	renderSvc.response = &types.RenderResponse{
		Url:    "https://example.com/page",
		Status: 200,
		Body:   []byte("<html>rendered</html>"),
	}
	listenerCh := make(chan []types.NetworkResponse, 1)
	err := svc.CustomStrategy(&param.CustomStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		ActionsFunc: func(d chrome.Driver) error {
			return d.PerformScrolling(3, 1, 1)
		},
		ListenerPattern: "/api/",
		ListenerCh:      listenerCh,
		Selector:        "body",
		HTMLFunc:        func(e *colly.HTMLElement) error { return nil },
	})
	require.NoError(t, err)

	first := newTestResponse("https://example.com/page", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(first)
	second := newTestResponse("https://example.com/other", 200, "<html>static</html>", "text/html")
	crawler.fireResponse(second)

	assert.Equal(t, []byte("<html>after actions</html>"), first.Body)
	assert.Equal(t, 2, driver.scrollCalls)
	// 旁路监听只注册一次
	assert.Equal(t, 1, driver.listenerCalls)
	assert.Equal(t, "/api/", driver.listenerPattern)
}

func TestOnScraped_EmbedsAndIndexes(t *testing.T) {
	svc, crawler, _, esClient, embedder := newTestCrawlService(crawlConfig(nil, false))
	var gotUrl string
	var gotStatus int
	svc.OnScraped(func(pageUrl string, status int, body []byte) ([]*entity.RenderedPage, error) {
		gotUrl = pageUrl
		gotStatus = status
		return []*entity.RenderedPage{
			{Url: pageUrl, Status: status, Title: "first", Content: "alpha"},
			{Url: pageUrl + "#2", Status: status, Title: "second", Content: "beta"},
			{Url: pageUrl + "#3", Status: status, Title: "third", Content: "gamma"},
		}, nil
	})

	r := newTestResponse("https://example.com/page", 503, "<html>rendered</html>", "text/html")
	r.Ctx.Put(RenderedResponseKey, &types.RenderResponse{
		Url:    "https://example.com/page?final=1",
		Status: 200,
		Body:   []byte("<html>rendered</html>"),
	})
	crawler.fireScraped(r)

	// 渲染过的响应以渲染后的URL和状态码为准
	assert.Equal(t, "https://example.com/page?final=1", gotUrl)
	assert.Equal(t, 200, gotStatus)

	// BatchSize为2,三篇文档拆成两批
	require.Len(t, embedder.batches, 2)
	assert.Len(t, embedder.batches[0], 2)
	assert.Len(t, embedder.batches[1], 1)

	require.Len(t, esClient.bulkDocs, 1)
	docs := esClient.bulkDocs[0]
	require.Len(t, docs, 3)
	for _, doc := range docs {
		assert.NotEmpty(t, doc.GetID())
		assert.NotEmpty(t, doc.GetEmbedding())
	}
}

func TestOnScraped_SkipsEmptyBody(t *testing.T) {
	svc, crawler, _, esClient, _ := newTestCrawlService(crawlConfig(nil, false))
	called := false
	svc.OnScraped(func(pageUrl string, status int, body []byte) ([]*entity.RenderedPage, error) {
		called = true
		return nil, nil
	})

	r := newTestResponse("https://example.com/dropped", 200, "", "text/html")
	crawler.fireScraped(r)

	assert.False(t, called)
	assert.Empty(t, esClient.bulkDocs)
}

func TestOnScraped_ParseErrorSkipsIndexing(t *testing.T) {
	svc, crawler, _, esClient, _ := newTestCrawlService(crawlConfig(nil, false))
	svc.OnScraped(func(pageUrl string, status int, body []byte) ([]*entity.RenderedPage, error) {
		return nil, fmt.Errorf("malformed page")
	})

	r := newTestResponse("https://example.com/bad", 200, "<html>broken", "text/html")
	crawler.fireScraped(r)

	assert.Empty(t, esClient.bulkDocs)
}

func TestRecursiveCrawling_RegistersLinkSelector(t *testing.T) {
	svc, crawler, _, _, _ := newTestCrawlService(crawlConfig(nil, false))

	svc.RecursiveCrawling("a[href]")

	assert.Contains(t, crawler.htmlCbs, "a[href]")
}

func TestClose_QuitsRenderService(t *testing.T) {
	svc, _, renderSvc, _, _ := newTestCrawlService(crawlConfig(nil, false))

	svc.Close()
	svc.Close()

	assert.Equal(t, 2, renderSvc.closeCalls)
}
