package parallel

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/options"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// rodPagePoolCrawler 单浏览器多页面的并行实现,页面从池中复用
type rodPagePoolCrawler struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	pagePool   rod.Pool[rod.Page]
	createPage func() (*rod.Page, error)
	logger     *zap.Logger
}

func InitRodPagePoolCrawler(cfg *config.Config, logger *zap.Logger) (ParallelCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := options.CreateLauncher(
		options.WithBin(cfg.Driver.Bin),
		options.WithUserDataDir(cfg.Rod.UserDataDir),
		options.WithHeadless(cfg.Rod.Headless),
		options.WithDisableBlinkFeatures(cfg.Rod.DisableBlinkFeatures),
		options.WithIncognito(cfg.Rod.Incognito),
		options.WithDisableDevShmUsage(cfg.Rod.DisableDevShmUsage),
		options.WithNoSandbox(cfg.Rod.NoSandbox),
		options.WithUserAgent(cfg.Rod.UserAgent),
		options.WithLeakless(cfg.Rod.Leakless),
		options.WithArguments(cfg.Driver.Arguments),
	)
	urlStr, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(urlStr)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	// 创建页面池
	pagePool := rod.NewPagePool(cfg.Parallel.PagePoolSize)

	createPage := func() (*rod.Page, error) {
		if cfg.Rod.Stealth {
			return stealth.Page(browser)
		}
		return browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}

	logger.Info("InitRodPagePoolCrawler", zap.Int("pagePoolSize", cfg.Parallel.PagePoolSize))
	return &rodPagePoolCrawler{
		launcher:   l,
		browser:    browser,
		pagePool:   pagePool,
		createPage: createPage,
		logger:     logger,
	}, nil
}

func (rppc *rodPagePoolCrawler) Close() {
	rppc.pagePool.Cleanup(func(p *rod.Page) {
		if err := p.Close(); err != nil {
			rppc.logger.Warn("关闭页面失败", zap.Error(err))
		}
	})
	if err := rppc.browser.Close(); err != nil {
		rppc.logger.Warn("关闭浏览器失败", zap.Error(err))
	}
	rppc.launcher.Cleanup()
}

func (rppc *rodPagePoolCrawler) PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 过滤无效操作
	validOperations := checkOperations(operations, rppc.logger)

	// 同一浏览器共用一个路由器,先注册所有监听再开跑
	router := rppc.browser.HijackRequests()
	listened := rppc.setAllNetListener(ctx, router, validOperations)
	if listened {
		go router.Run()
	}

	operationCh := make(chan *param.UrlOperation, len(validOperations))
	for _, op := range validOperations {
		operationCh <- op
	}
	close(operationCh)

	errCh := make(chan error, max(len(validOperations), len(rppc.pagePool)))

	wg := sync.WaitGroup{}
	for i := range min(len(rppc.pagePool), len(validOperations)) {
		wg.Add(1)
		go func(ctx context.Context, workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done(): // 主动监听 ctx 取消
					rppc.logger.Info("worker 取消执行,退出", zap.Int("workerID", workerID))
					return
				case op, ok := <-operationCh: // 读取任务
					if !ok { // 通道关闭则退出
						return
					}
					rppc.processUrlOperation(workerID, errCh, op)
				}
			}
		}(ctx, i)
	}
	wg.Wait()

	if listened {
		if err := router.Stop(); err != nil {
			rppc.logger.Warn("停止路由器失败", zap.Error(err))
		}
	}
	cancel()
	closeOperationChannels(validOperations)

	close(errCh)
	// 收集错误
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d errors occurred: %v", len(errs), errs)
	}
	return nil
}

func (rppc *rodPagePoolCrawler) processUrlOperation(workerID int, errCh chan<- error, operation *param.UrlOperation) {
	page, err := rppc.pagePool.Get(rppc.createPage)
	if err != nil {
		errCh <- fmt.Errorf("获取页面失败: %w", err)
		return
	}
	// 确保页面放回池中
	defer rppc.pagePool.Put(page)

	rppc.logger.Info("worker 开始处理", zap.Int("workerID", workerID), zap.String("url", operation.Url))
	if err := navigatePage(page, operation); err != nil {
		errCh <- fmt.Errorf("处理URL失败: %w", err)
		return
	}

	if err := executeOperation(page, operation, rppc.logger); err != nil {
		errCh <- err
		return
	}
}

func (rppc *rodPagePoolCrawler) setAllNetListener(ctx context.Context, router *rod.HijackRouter, operations []*param.UrlOperation) bool {
	listened := false
	for _, op := range operations {
		if op.ListenerConfig == nil {
			continue
		}
		listener := op.ListenerConfig
		for _, urlPattern := range listener.UrlPatterns {
			err := router.Add(urlPattern, "", func(hijack *rod.Hijack) {
				if err := hijack.LoadResponse(http.DefaultClient, true); err != nil {
					rppc.logger.Warn("加载响应失败", zap.String("url", hijack.Request.URL().String()), zap.Error(err))
					return
				}
				body := hijack.Response.Body()
				select {
				case listener.ListenerCh <- &types.NetworkResponse{
					Url:        hijack.Request.URL().String(),
					UrlPattern: urlPattern,
					Body:       []byte(body),
				}:
				case <-ctx.Done():
				}
			})
			if err != nil {
				rppc.logger.Warn("注册监听失败", zap.String("pattern", urlPattern), zap.Error(err))
				continue
			}
			listened = true
		}
	}
	return listened
}
