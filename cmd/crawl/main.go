package main

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/collector"
	"github.com/LouYuanbo1/renderbridge/internal/infra/embedding"
	"github.com/LouYuanbo1/renderbridge/internal/infra/logging"
	"github.com/LouYuanbo1/renderbridge/internal/infra/persistence/es"
	"github.com/LouYuanbo1/renderbridge/internal/service/crawler"
	"github.com/LouYuanbo1/renderbridge/internal/service/crawler/param"
	"github.com/LouYuanbo1/renderbridge/internal/service/render"
	renderparam "github.com/LouYuanbo1/renderbridge/param"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

//使用go:embed嵌入appconfig.json文件
//下方注释重要,不能删除
//在实际使用时，注意与文件名的对应，Github上保存的appconfig_example.json文件为样例，以实际为准,比如我这里是appconfig.json
//When using it in practice, pay attention to the correspondence between the filename and the actual filename.
//The appconfig_example.json file saved on GitHub is just an example;
//use your own file, for example, mine is appconfig.json.

//go:embed appconfig/appconfig.json
var appConfig []byte

// 入口页是静态的,引用列表页由JS填充,配置里的patterns决定哪些响应走浏览器渲染
var url = "https://quotes.toscrape.com/js/"

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

	embedder, err := embedding.InitEmbedder(ctx, appcfg)
	if err != nil {
		log.Fatalf("初始化Embedder失败: %v", err)
	}

	collyCrawler := collector.InitCollyCrawler(appcfg, logger)

	renderService, err := render.InitRenderService(appcfg, logger)
	if err != nil {
		log.Fatalf("初始化渲染服务失败: %v", err)
	}

	service := crawler.InitCrawlService[*entity.RenderedPage, *model.PageDoc](
		appcfg, collyCrawler, renderService, esPageClient, embedder, 10, 1, logger)
	defer service.Close()

	params := &param.DefaultStrategy[*entity.RenderedPage, *model.PageDoc]{
		EnableJavascript: true,
		RenderTemplate: &renderparam.RenderRequest{
			TimeoutSeconds: 20,
			WaitUntil: &renderparam.WaitCondition{
				State: renderparam.WaitStable,
			},
		},
		Selector: "head title",
		HTMLFunc: func(e *colly.HTMLElement) error {
			fmt.Println(e.Text)
			return nil
		},
		ToCrawlable: func(pageUrl string, status int, body []byte) ([]*entity.RenderedPage, error) {
			page, err := entity.ParseRenderedPage(pageUrl, status, body)
			if err != nil {
				return nil, err
			}
			return []*entity.RenderedPage{page}, nil
		},
	}
	if err := service.DefaultStrategy(params); err != nil {
		log.Fatalf("注册策略失败: %v", err)
	}
	service.CollyCrawler().OnError(func(r *colly.Response, err error) {
		logger.Warn("请求失败", zap.String("url", r.Request.URL.String()), zap.Error(err))
	})
	//渲染后的页面里才有下一页链接
	service.RecursiveCrawling("li.next > a[href]")

	if err := service.Crawl(ctx, url); err != nil {
		log.Fatalf("爬取失败: %v", err)
	}

	count, err := esPageClient.CountDocs(ctx)
	if err != nil {
		log.Fatalf("查询索引文档数量失败: %v", err)
	}
	fmt.Printf("索引中的文档数量: %d\n", count)
}
