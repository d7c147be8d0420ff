package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/collector/option"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/internal/service/crawler/param"
	"github.com/LouYuanbo1/renderbridge/internal/service/render"
	renderparam "github.com/LouYuanbo1/renderbridge/param"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	// RenderFlagKey 请求Ctx中的渲染标记,放入后该请求的响应会交给浏览器重新渲染
	RenderFlagKey = "render"
	// RenderedResponseKey 渲染产物在响应Ctx中的键,值为*types.RenderResponse
	RenderedResponseKey = "rendered_response"
)

// MarkForRender 标记单个请求走浏览器渲染,在OnRequest回调中调用
func MarkForRender(r *colly.Request) {
	r.Ctx.Put(RenderFlagKey, "1")
}

// CrawlService 静态抓取与浏览器渲染的桥接服务
// 命中渲染规则的响应先经过浏览器重新渲染,再进入解析和入库流程
type CrawlService[C entity.Crawlable[D], D model.Document] interface {
	CollyCrawler() collector.CollyCrawler
	RenderService() render.RenderService
	TypedEsClient() es.TypedEsClient[D]
	Embedder() embedding.Embedder
	Crawl(ctx context.Context, url string) error
	DefaultStrategy(params *param.DefaultStrategy[C, D]) error
	CustomStrategy(params *param.CustomStrategy[C, D]) error
	RecursiveCrawling(hrefSelector string)
	OnRequest(options option.CollyRequest, handler func(r *colly.Request))
	OnResponse(handler func(r *colly.Response) error)
	OnHTML(selector string, handler func(e *colly.HTMLElement) error)
	OnScraped(toCrawlable func(pageUrl string, status int, body []byte) ([]C, error))
	Close()
}

type crawlService[C entity.Crawlable[D], D model.Document] struct {
	collyCrawler  collector.CollyCrawler
	renderService render.RenderService
	typedEsClient es.TypedEsClient[D]
	embedder      embedding.Embedder
	logger        *zap.Logger

	renderPatterns   []string
	fallbackToStatic bool

	processSem chan struct{}
	embedSem   chan struct{}

	listenerOnce sync.Once
}

func InitCrawlService[C entity.Crawlable[D], D model.Document](
	cfg *config.Config,
	collyCrawler collector.CollyCrawler,
	renderService render.RenderService,
	typedEsClient es.TypedEsClient[D],
	embedder embedding.Embedder,
	processSemSize int,
	embedSemSize int,
	logger *zap.Logger,
) CrawlService[C, D] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &crawlService[C, D]{
		collyCrawler:     collyCrawler,
		renderService:    renderService,
		typedEsClient:    typedEsClient,
		embedder:         embedder,
		logger:           logger,
		renderPatterns:   cfg.Render.Patterns,
		fallbackToStatic: cfg.Render.FallbackToStatic,
		processSem:       make(chan struct{}, processSemSize),
		embedSem:         make(chan struct{}, embedSemSize),
	}
}

func (cs *crawlService[C, D]) CollyCrawler() collector.CollyCrawler {
	return cs.collyCrawler
}

func (cs *crawlService[C, D]) RenderService() render.RenderService {
	return cs.renderService
}

func (cs *crawlService[C, D]) TypedEsClient() es.TypedEsClient[D] {
	return cs.typedEsClient
}

func (cs *crawlService[C, D]) Embedder() embedding.Embedder {
	return cs.embedder
}

func (cs *crawlService[C, D]) Crawl(ctx context.Context, url string) error {
	cs.logger.Info("开始爬取", zap.String("url", url))
	if err := cs.collyCrawler.Visit(url); err != nil {
		return fmt.Errorf("访问入口URL失败: %w", err)
	}
	cs.collyCrawler.Wait()
	cs.logger.Info("爬取结束", zap.String("url", url))
	return nil
}

// DefaultStrategy 标准抓取策略
// EnableJavascript开启后,命中渲染规则的响应用浏览器重新渲染,body被渲染后的页面源码替换
func (cs *crawlService[C, D]) DefaultStrategy(params *param.DefaultStrategy[C, D]) error {
	if params == nil || params.Selector == "" || params.HTMLFunc == nil {
		return fmt.Errorf("selector or HTMLFunc is empty")
	}
	if params.EnableJavascript {
		cs.OnResponse(func(r *colly.Response) error {
			if !cs.shouldRender(r) {
				return nil
			}
			return cs.applyRenderPolicy(r, cs.renderResponse(r, params.RenderTemplate))
		})
	}
	cs.OnHTML(params.Selector, params.HTMLFunc)
	if params.ToCrawlable != nil {
		cs.OnScraped(params.ToCrawlable)
	}
	cs.logger.Info("注册标准策略",
		zap.String("selector", params.Selector),
		zap.Bool("enableJavascript", params.EnableJavascript))
	return nil
}

// CustomStrategy 在渲染后的页面上追加驱动层自定义动作,并可旁路采集API响应
func (cs *crawlService[C, D]) CustomStrategy(params *param.CustomStrategy[C, D]) error {
	if params == nil || params.Selector == "" || params.HTMLFunc == nil {
		return fmt.Errorf("selector or HTMLFunc is empty")
	}
	if params.EnableJavascript {
		cs.OnResponse(func(r *colly.Response) error {
			if !cs.shouldRender(r) {
				return nil
			}
			if err := cs.applyRenderPolicy(r, cs.renderResponse(r, params.RenderTemplate)); err != nil {
				return err
			}
			return cs.runDriverActions(r, params)
		})
	}
	cs.OnHTML(params.Selector, params.HTMLFunc)
	if params.ToCrawlable != nil {
		cs.OnScraped(params.ToCrawlable)
	}
	cs.logger.Info("注册自定义策略",
		zap.String("selector", params.Selector),
		zap.String("listenerPattern", params.ListenerPattern))
	return nil
}

// RecursiveCrawling 对匹配到的链接递归发起访问
func (cs *crawlService[C, D]) RecursiveCrawling(hrefSelector string) {
	cs.collyCrawler.OnHTML(hrefSelector, func(el *colly.HTMLElement) {
		link := el.Attr("href")
		err := el.Request.Visit(link)
		if err != nil {
			// 已访问过的链接出现得太频繁,不值得记录
			var alreadyVisited *colly.AlreadyVisitedError
			if !errors.As(err, &alreadyVisited) {
				cs.logger.Debug("递归访问失败", zap.String("href", link), zap.Error(err))
			}
		}
	})
}

func (cs *crawlService[C, D]) OnRequest(options option.CollyRequest, handler func(r *colly.Request)) {
	cs.collyCrawler.OnRequest(options, handler)
}

func (cs *crawlService[C, D]) OnResponse(handler func(r *colly.Response) error) {
	//colly的OnResponse回调只在有响应时被调用,信号量的获取尝试也只会在有响应时发生
	cs.collyCrawler.OnResponse(func(r *colly.Response) {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		// 尝试向信号量通道发送一个空结构体,成功后注册退出时的释放
		case cs.processSem <- struct{}{}:
			defer func() { <-cs.processSem }()
		case <-timeoutCtx.Done():
			// 等待超时仍然拿不到信号量,执行限流处理并放弃该响应
			cs.handleRateLimit(r.Request)
			return
		}
		if err := handler(r); err != nil {
			cs.logger.Warn("响应处理失败", zap.String("url", r.Request.URL.String()), zap.Error(err))
		}
	})
}

func (cs *crawlService[C, D]) OnHTML(selector string, handler func(e *colly.HTMLElement) error) {
	cs.collyCrawler.OnHTML(selector, func(e *colly.HTMLElement) {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		case cs.processSem <- struct{}{}:
			defer func() { <-cs.processSem }()
		case <-timeoutCtx.Done():
			cs.handleRateLimit(e.Request)
			return
		}
		if err := handler(e); err != nil {
			cs.logger.Warn("元素处理失败", zap.String("url", e.Request.URL.String()), zap.Error(err))
		}
	})
}

// OnScraped 整页解析完成后,把页面转换为文档并走嵌入入库流水线
// 渲染过的响应以渲染后的最终URL和状态码为准
func (cs *crawlService[C, D]) OnScraped(toCrawlable func(pageUrl string, status int, body []byte) ([]C, error)) {
	cs.collyCrawler.OnScraped(func(r *colly.Response) {
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		select {
		case cs.processSem <- struct{}{}:
			defer func() { <-cs.processSem }()
		case <-timeoutCtx.Done():
			cs.handleRateLimit(r.Request)
			return
		}
		// 渲染超时被丢弃的响应body为空,不再进入入库流程
		if len(r.Body) == 0 {
			return
		}
		pageUrl := r.Request.URL.String()
		status := r.StatusCode
		if r.Ctx != nil {
			if rendered, ok := r.Ctx.GetAny(RenderedResponseKey).(*types.RenderResponse); ok {
				pageUrl = rendered.Url
				status = rendered.Status
			}
		}
		data, err := toCrawlable(pageUrl, status, r.Body)
		if err != nil {
			cs.logger.Warn("页面解析失败", zap.String("url", pageUrl), zap.Error(err))
			return
		}
		if len(data) == 0 {
			return
		}
		docs := make([]D, 0, len(data))
		for _, d := range data {
			docs = append(docs, d.ToDocument())
		}
		cs.embeddingDocs(docs)
		cs.indexDocs(docs)
	})
}

// Close 结束爬取会话,退出渲染服务持有的浏览器
func (cs *crawlService[C, D]) Close() {
	cs.renderService.Close()
}

// shouldRender 判定该响应是否交给浏览器重新渲染
// 显式标记的请求无条件渲染,URL模式匹配只对HTML响应生效
func (cs *crawlService[C, D]) shouldRender(r *colly.Response) bool {
	if r.Ctx != nil && r.Ctx.Get(RenderFlagKey) == "1" {
		return true
	}
	if len(cs.renderPatterns) == 0 {
		return false
	}
	contentType := strings.ToLower(r.Headers.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") {
		return false
	}
	pageUrl := r.Request.URL.String()
	for _, pattern := range cs.renderPatterns {
		if pattern == "*" || strings.Contains(pageUrl, pattern) {
			return true
		}
	}
	return false
}

// renderResponse 用浏览器重新渲染该响应,替换body和状态码并暂存渲染产物
func (cs *crawlService[C, D]) renderResponse(r *colly.Response, template *renderparam.RenderRequest) error {
	request := &renderparam.RenderRequest{}
	if template != nil {
		copied := *template
		request = &copied
	}
	request.Url = r.Request.URL.String()
	rendered, err := cs.renderService.ProcessRequest(context.Background(), request)
	if err != nil {
		return err
	}
	r.Body = rendered.Body
	r.StatusCode = rendered.Status
	if r.Ctx != nil {
		r.Ctx.Put(RenderedResponseKey, rendered)
	}
	return nil
}

// applyRenderPolicy 渲染失败时按配置决定回退静态内容还是丢弃该响应
func (cs *crawlService[C, D]) applyRenderPolicy(r *colly.Response, err error) error {
	if err == nil {
		return nil
	}
	pageUrl := r.Request.URL.String()
	if cs.fallbackToStatic {
		cs.logger.Warn("渲染失败,回退到静态内容", zap.String("url", pageUrl), zap.Error(err))
		return nil
	}
	if errors.Is(err, render.ErrRenderTimeout) {
		cs.logger.Warn("渲染超时,丢弃该响应", zap.String("url", pageUrl))
	} else {
		cs.logger.Warn("渲染失败,丢弃该响应", zap.String("url", pageUrl), zap.Error(err))
	}
	// 清空body后该响应不会再进入解析和入库
	r.Body = nil
	return err
}

// runDriverActions 渲染完成后在同一页面上执行自定义动作,并用动作后的页面源码更新body
// 旁路监听只注册一次,从下一次导航开始生效
func (cs *crawlService[C, D]) runDriverActions(r *colly.Response, params *param.CustomStrategy[C, D]) error {
	driver := cs.renderService.Driver()
	if driver == nil {
		return nil
	}
	if params.ListenerPattern != "" && params.ListenerCh != nil {
		cs.listenerOnce.Do(func() {
			driver.SetNetworkListener(params.ListenerPattern, params.ListenerCh)
		})
	}
	if params.ActionsFunc == nil {
		return nil
	}
	if err := params.ActionsFunc(driver); err != nil {
		return fmt.Errorf("自定义动作执行失败: %w", err)
	}
	html, err := driver.HTML(context.Background())
	if err != nil {
		return fmt.Errorf("读取动作后的页面源码失败: %w", err)
	}
	r.Body = []byte(html)
	return nil
}

// embeddingDocs 对文档做批量嵌入,单批失败时跳过该批继续后面的批次
func (cs *crawlService[C, D]) embeddingDocs(docs []D) {
	if len(docs) == 0 || cs.embedder == nil {
		return
	}
	// 嵌入信号量与处理信号量分开,避免慢嵌入拖垮响应处理
	cs.embedSem <- struct{}{}
	defer func() { <-cs.embedSem }()

	batchSize := cs.embedder.BatchSize()
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
		embeddingVectors, err := cs.embedder.Embed(reqCtx, embeddingStrings[i:end])
		if err != nil {
			cs.logger.Error("批量嵌入失败", zap.Int("from", i), zap.Int("to", end), zap.Error(err))
			continue
		}
		for j := range embeddingVectors {
			docs[i+j].SetEmbedding(embeddingVectors[j])
		}
	}
}

func (cs *crawlService[C, D]) indexDocs(docs []D) {
	if cs.typedEsClient == nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := cs.typedEsClient.BulkIndexDocsWithID(reqCtx, docs); err != nil {
		cs.logger.Error("批量入库失败", zap.Error(err))
	}
}

func (cs *crawlService[C, D]) handleRateLimit(r *colly.Request) {
	// 简单的丢弃策略,也可以实现排队或其他策略
	cs.logger.Warn("触发限流,丢弃处理", zap.String("url", r.URL.String()))
}
