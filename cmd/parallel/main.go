package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/parallel"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/logging"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	service "github.com/LouYuanbo1/renderbridge/internal/service/parallel"
	"github.com/LouYuanbo1/renderbridge/param"
)

//使用go:embed嵌入appconfig.json文件
//下方注释重要,不能删除
//在实际使用时，注意与文件名的对应，Github上保存的appconfig_example.json文件为样例，以实际为准,比如我这里是appconfig.json
//When using it in practice, pay attention to the correspondence between the filename and the actual filename.
//The appconfig_example.json file saved on GitHub is just an example;
//use your own file, for example, mine is appconfig.json.

//go:embed appconfig/appconfig.json
var appConfig []byte

// 滚动页的引用数据走JSON接口,urlPattern是接口地址的一部分,可以通过f12找到它
// 图书列表页是静态的,直接按选择器取内容
var (
	urlQuotes        = "https://quotes.toscrape.com/scroll"
	urlPatternQuotes = "/api/quotes"
	urlBooks         = "https://books.toscrape.com/"
	selectorBooks    = "article.product_pod h3 a"
)

func main() {
	appcfg, err := config.ParseConfig(appConfig)
	if err != nil {
		log.Fatalf("解析配置失败: %v", err)
	}
	logger, err := logging.InitLogger(appcfg.Log.Env, appcfg.Log.Level)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	//运行前确保es服务启动完成
	esPageClient, err := es.InitTypedEsClient[*model.PageDoc](appcfg, logger)
	if err != nil {
		log.Fatalf("初始化Elasticsearch客户端失败: %v", err)
	}
	//创建索引并设置映射
	if err := esPageClient.CreateIndexWithMapping(ctx); err != nil {
		log.Fatalf("创建索引失败: %v", err)
	}

	//页面池共享一个浏览器进程,浏览器池按实例隔离,按需切换
	/*
		parallelCrawler, err := parallel.InitRodPagePoolCrawler(appcfg, logger)
		if err != nil {
			log.Fatalf("初始化并行爬虫失败: %v", err)
		}
	*/
	parallelCrawler, err := parallel.InitRodBrowserPoolCrawler(appcfg, logger)
	if err != nil {
		log.Fatalf("初始化并行爬虫失败: %v", err)
	}

	embedder, err := embedding.InitEmbedder(ctx, appcfg)
	if err != nil {
		log.Fatalf("初始化Embedder失败: %v", err)
	}

	serviceParallel := service.InitRodParallelService[*entity.RenderedPage, *model.PageDoc](
		parallelCrawler, esPageClient, embedder, logger)
	defer serviceParallel.Close()

	respChQuotes := make(chan *types.NetworkResponse, 100)
	htmlChBooks := make(chan *types.HtmlContent, 100)

	operations := []*param.UrlOperation{
		{
			Url:           urlQuotes,
			OperationType: param.OperationScroll,
			//每轮滚动的次数
			NumActions: 5,
			//标准 sleep 时间(秒)
			StandardSleepSeconds: 1,
			//随机延迟时间(秒),实际等待为 StandardSleepSeconds + [0, RandomDelaySeconds)
			RandomDelaySeconds: 1,
			ListenerConfig: &param.ListenerConfig{
				UrlPatterns: []string{urlPatternQuotes},
				ListenerCh:  respChQuotes,
			},
		},
		{
			Url:           urlBooks,
			OperationType: param.OperationRender,
			WaitUntil: &param.WaitCondition{
				State: param.WaitStable,
			},
			HtmlContentConfig: &param.HtmlContentConfig{
				ContentSelectors: []string{selectorBooks},
				HtmlContentsCh:   htmlChBooks,
			},
		},
	}

	err = serviceParallel.CrawlAndIndex(ctx, operations,
		//滚动接口返回的JSON引用数据
		func(body []byte) ([]*entity.RenderedPage, error) {
			var payload struct {
				Page   int `json:"page"`
				Quotes []struct {
					Author struct {
						Name string `json:"name"`
					} `json:"author"`
					Text string   `json:"text"`
					Tags []string `json:"tags"`
				} `json:"quotes"`
			}
			if err := json.Unmarshal(body, &payload); err != nil {
				return nil, fmt.Errorf("JSON解析失败: %w", err)
			}
			pages := make([]*entity.RenderedPage, 0, len(payload.Quotes))
			for i, quote := range payload.Quotes {
				pages = append(pages, &entity.RenderedPage{
					Url:     fmt.Sprintf("%s/api/quotes?page=%d#%d", "https://quotes.toscrape.com", payload.Page, i),
					Status:  200,
					Title:   quote.Author.Name,
					Content: quote.Text,
				})
			}
			return pages, nil
		},
		//图书列表页按选择器取到的HTML片段
		func(content *types.HtmlContent) ([]*entity.RenderedPage, error) {
			pages := make([]*entity.RenderedPage, 0, len(content.Content))
			for i, html := range content.Content {
				pages = append(pages, &entity.RenderedPage{
					Url:     fmt.Sprintf("%s#%s-%d", content.Url, content.ContentSelector, i),
					Status:  200,
					Content: html,
				})
			}
			return pages, nil
		})
	if err != nil {
		log.Fatalf("并行爬取失败: %v", err)
	}

	count, err := esPageClient.CountDocs(ctx)
	if err != nil {
		log.Fatalf("查询索引文档数量失败: %v", err)
	}
	fmt.Printf("索引中的文档数量: %d\n", count)
}
