package parallel

import (
	"context"
	"fmt"
	"net/http"
	"os"
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

// rodBrowserPoolCrawler 多浏览器实例的并行实现
// 每个实例有独立的数据目录和调试端口,适合站点隔离要求高的任务
type rodBrowserPoolCrawler struct {
	browserPool   rod.Pool[rod.Browser]
	createBrowser func() (*rod.Browser, error)
	controlURLCh  chan string
	launchers     []*launcher.Launcher
	stealth       bool
	logger        *zap.Logger
}

func InitRodBrowserPoolCrawler(cfg *config.Config, logger *zap.Logger) (ParallelCrawler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.Parallel.PoolSize
	controlURLCh := make(chan string, poolSize)
	launchers := make([]*launcher.Launcher, 0, poolSize)
	for instanceID := range poolSize {

		instanceDataDir := fmt.Sprintf("%s/instance_%d", cfg.Rod.UserDataDir, instanceID)
		err := os.MkdirAll(instanceDataDir, 0755)
		if err != nil {
			return nil, fmt.Errorf("创建实例数据目录失败: %w", err)
		}

		port := 0
		if cfg.Parallel.BaseDebuggingPort > 0 {
			port = cfg.Parallel.BaseDebuggingPort + instanceID
		}
		l := options.CreateLauncher(
			options.WithBin(cfg.Driver.Bin),
			options.WithUserDataDir(instanceDataDir),
			options.WithHeadless(cfg.Rod.Headless),
			options.WithDisableBlinkFeatures(cfg.Rod.DisableBlinkFeatures),
			options.WithIncognito(cfg.Rod.Incognito),
			options.WithDisableDevShmUsage(cfg.Rod.DisableDevShmUsage),
			options.WithNoSandbox(cfg.Rod.NoSandbox),
			options.WithUserAgent(cfg.Rod.UserAgent),
			options.WithLeakless(cfg.Rod.Leakless),
			options.WithRemoteDebuggingPort(port),
			options.WithArguments(cfg.Driver.Arguments),
		)
		urlStr, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("启动浏览器失败: %w", err)
		}
		launchers = append(launchers, l)

		logger.Info("浏览器实例已启动", zap.Int("instanceID", instanceID), zap.String("controlURL", urlStr))
		controlURLCh <- urlStr
	}
	close(controlURLCh)

	browserPool := rod.NewBrowserPool(poolSize)

	createBrowser := func() (*rod.Browser, error) {
		// 从 controlURLCh 中获取 URL,池大小与URL数量一致,不会取空
		urlStr := <-controlURLCh
		browser := rod.New().ControlURL(urlStr)
		if err := browser.Connect(); err != nil {
			return nil, fmt.Errorf("连接浏览器失败: %w", err)
		}
		return browser, nil
	}

	return &rodBrowserPoolCrawler{
		browserPool:   browserPool,
		createBrowser: createBrowser,
		controlURLCh:  controlURLCh,
		launchers:     launchers,
		stealth:       cfg.Rod.Stealth,
		logger:        logger,
	}, nil
}

func (rbpc *rodBrowserPoolCrawler) Close() {
	rbpc.logger.Info("开始关闭浏览器池", zap.Int("size", len(rbpc.launchers)))
	rbpc.browserPool.Cleanup(func(b *rod.Browser) {
		if err := b.Close(); err != nil {
			rbpc.logger.Warn("关闭浏览器失败", zap.Error(err))
		}
	})
	for _, l := range rbpc.launchers {
		l.Cleanup()
	}
}

func (rbpc *rodBrowserPoolCrawler) PerformAllUrlOperations(ctx context.Context, operations []*param.UrlOperation) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 过滤无效操作
	validOperations := checkOperations(operations, rbpc.logger)

	operationCh := make(chan *param.UrlOperation, len(validOperations))
	for _, op := range validOperations {
		operationCh <- op
	}
	close(operationCh)

	errCh := make(chan error, max(len(validOperations), len(rbpc.browserPool)))

	wg := sync.WaitGroup{}
	for i := range min(len(rbpc.browserPool), len(validOperations)) {
		wg.Add(1)
		go func(ctx context.Context, workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done(): // 主动监听 ctx 取消
					rbpc.logger.Info("worker 取消执行,退出", zap.Int("workerID", workerID))
					return
				case op, ok := <-operationCh: // 读取任务
					if !ok { // 通道关闭则退出
						return
					}
					rbpc.processUrlOperation(ctx, workerID, errCh, op)
				}
			}
		}(ctx, i)
	}
	wg.Wait()

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

func (rbpc *rodBrowserPoolCrawler) processUrlOperation(ctx context.Context, workerID int, errCh chan<- error, operation *param.UrlOperation) {
	browser, err := rbpc.browserPool.Get(rbpc.createBrowser)
	if err != nil {
		errCh <- fmt.Errorf("获取浏览器失败: %w", err)
		return
	}
	// 确保浏览器放回池中
	defer func() {
		rbpc.logger.Debug("将浏览器返回池", zap.Int("workerID", workerID))
		rbpc.browserPool.Put(browser)
	}()

	var router *rod.HijackRouter
	if operation.ListenerConfig != nil {
		router = rbpc.setNetListener(ctx, browser, operation.ListenerConfig)
		go func() {
			router.Run()
			rbpc.logger.Debug("路由器停止运行", zap.Int("workerID", workerID))
		}()
		defer func() {
			if err := router.Stop(); err != nil {
				rbpc.logger.Warn("停止路由器失败", zap.Error(err))
			}
		}()
	}

	var page *rod.Page
	if rbpc.stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		errCh <- fmt.Errorf("获取页面失败: %w", err)
		return
	}
	defer func() {
		if err := page.Close(); err != nil {
			rbpc.logger.Warn("关闭页面失败", zap.Int("workerID", workerID), zap.Error(err))
		}
	}()

	rbpc.logger.Info("worker 开始处理", zap.Int("workerID", workerID), zap.String("url", operation.Url))
	if err := navigatePage(page, operation); err != nil {
		errCh <- fmt.Errorf("处理URL失败: %w", err)
		return
	}

	if err := executeOperation(page, operation, rbpc.logger); err != nil {
		errCh <- err
		return
	}
}

func (rbpc *rodBrowserPoolCrawler) setNetListener(ctx context.Context, browser *rod.Browser, listener *param.ListenerConfig) *rod.HijackRouter {
	router := browser.HijackRequests()
	for _, urlPattern := range listener.UrlPatterns {
		err := router.Add(urlPattern, "", func(hijack *rod.Hijack) {
			if err := hijack.LoadResponse(http.DefaultClient, true); err != nil {
				rbpc.logger.Warn("加载响应失败", zap.String("url", hijack.Request.URL().String()), zap.Error(err))
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
			rbpc.logger.Warn("注册监听失败", zap.String("pattern", urlPattern), zap.Error(err))
		}
	}
	return router
}
