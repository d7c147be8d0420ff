package chrome

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/options"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

type chromedpDriver struct {
	requestCache sync.Map
	allocCtx     context.Context
	allocCancel  context.CancelFunc
	pageCtx      context.Context
	pageCancel   context.CancelFunc
	logger       *zap.Logger

	mu     sync.Mutex
	status int
}

// InitChromedpDriver 启动本地浏览器或连接远程DevTools端点
// 整个会话复用同一个标签页,网络和生命周期事件在启动时打开
func InitChromedpDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Driver, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.Driver.Bin != "" {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(cfg.Driver.Bin),
			chromedp.Flag("headless", cfg.Chromedp.Headless),
			chromedp.Flag("incognito", cfg.Chromedp.Incognito),
			chromedp.Flag("disable-dev-shm-usage", cfg.Chromedp.DisableDevShmUsage),
			chromedp.Flag("no-sandbox", cfg.Chromedp.NoSandbox),
		)
		if cfg.Chromedp.DisableBlinkFeatures != "" {
			opts = append(opts, chromedp.Flag("disable-blink-features", cfg.Chromedp.DisableBlinkFeatures))
		}
		if cfg.Chromedp.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.Chromedp.UserDataDir))
		}
		if cfg.Chromedp.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.Chromedp.UserAgent))
		}
		for _, arg := range cfg.Driver.Arguments {
			name, value := options.ParseArgument(arg)
			if name == "" {
				continue
			}
			if value == "" {
				opts = append(opts, chromedp.Flag(name, true))
			} else {
				opts = append(opts, chromedp.Flag(name, value))
			}
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	} else {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.Driver.ControlUrl)
	}

	pageCtx, pageCancel := chromedp.NewContext(allocCtx)

	cd := &chromedpDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		pageCtx:     pageCtx,
		pageCancel:  pageCancel,
		logger:      logger,
	}

	err := chromedp.Run(pageCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return page.SetLifecycleEventsEnabled(true).Do(ctx)
		}),
	)
	if err != nil {
		pageCancel()
		allocCancel()
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	cd.listenStatus()

	logger.Info("chromedp驱动就绪", zap.Bool("local", cfg.Driver.Bin != ""))
	return cd, nil
}

// listenStatus 记录每次导航主文档的状态码,首个文档响应为准
func (cd *chromedpDriver) listenStatus() {
	chromedp.ListenTarget(cd.pageCtx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Type != network.ResourceTypeDocument {
			return
		}
		cd.mu.Lock()
		if cd.status == 0 {
			cd.status = int(e.Response.Status)
		}
		cd.mu.Unlock()
	})
}

func (cd *chromedpDriver) PageContext() context.Context {
	return cd.pageCtx
}

func (cd *chromedpDriver) Close() {
	cd.pageCancel()
	cd.allocCancel()
}

// opCtx 以页面ctx为根构造操作ctx,调用方ctx的取消会一并传递
func (cd *chromedpDriver) opCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		octx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		octx, cancel = context.WithTimeout(cd.pageCtx, timeout)
	} else {
		octx, cancel = context.WithCancel(cd.pageCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return octx, func() {
		stop()
		cancel()
	}
}

func (cd *chromedpDriver) Navigate(ctx context.Context, pageUrl string, timeout time.Duration) error {
	cd.mu.Lock()
	cd.status = 0
	cd.mu.Unlock()

	octx, cancel := cd.opCtx(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(octx, chromedp.Navigate(pageUrl)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrNavigateTimeout, pageUrl)
		}
		return fmt.Errorf("访问URL失败 %s: %w", pageUrl, err)
	}
	return nil
}

func (cd *chromedpDriver) SetCookies(pageUrl string, cookies []*types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, cookie := range cookies {
		cookieUrl := cookie.Url
		if cookieUrl == "" && cookie.Domain == "" {
			cookieUrl = pageUrl
		}
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &network.CookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     path,
			URL:      cookieUrl,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
		})
	}
	if err := chromedp.Run(cd.pageCtx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("注入Cookie失败: %w", err)
	}
	return nil
}

func (cd *chromedpDriver) Wait(ctx context.Context, cond *param.WaitCondition) error {
	if cond == nil {
		return nil
	}
	octx, cancel := cd.opCtx(ctx, time.Duration(cond.Seconds)*time.Second)
	defer cancel()
	switch cond.State {
	case param.WaitLoad:
		return chromedp.Run(octx, chromedp.WaitReady("body", chromedp.ByQuery))
	case param.WaitIdle:
		return cd.waitLifecycle(octx, "networkIdle")
	case param.WaitStable:
		return cd.waitLifecycle(octx, "networkAlmostIdle")
	case param.WaitReady:
		return chromedp.Run(octx, chromedp.WaitReady(cond.Selector, chromedp.ByQuery))
	case param.WaitVisible:
		return chromedp.Run(octx, chromedp.WaitVisible(cond.Selector, chromedp.ByQuery))
	default:
		return fmt.Errorf("不支持的等待条件: %s", cond.State)
	}
}

// waitLifecycle 阻塞到指定的页面生命周期事件出现或ctx到期
func (cd *chromedpDriver) waitLifecycle(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var once sync.Once
	chromedp.ListenTarget(listenerCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && string(e.Name) == eventName {
			once.Do(func() { close(ch) })
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待 %s 事件超时: %w", eventName, ctx.Err())
	}
}

func (cd *chromedpDriver) Eval(ctx context.Context, fnSource string) (any, error) {
	octx, cancel := cd.opCtx(ctx, 0)
	defer cancel()
	expr := fmt.Sprintf("(%s)()", fnSource)
	var remote *runtime.RemoteObject
	err := chromedp.Run(octx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exp, err := runtime.Evaluate(expr).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return exp
		}
		remote = obj
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("执行脚本失败: %w", err)
	}
	if remote == nil || len(remote.Value) == 0 {
		return nil, nil
	}
	return gson.New([]byte(remote.Value)).Val(), nil
}

func (cd *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	octx, cancel := cd.opCtx(ctx, 0)
	defer cancel()
	var shot []byte
	if err := chromedp.Run(octx, chromedp.FullScreenshot(&shot, 100)); err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return shot, nil
}

func (cd *chromedpDriver) HTML(ctx context.Context) (string, error) {
	octx, cancel := cd.opCtx(ctx, 0)
	defer cancel()
	var html string
	if err := chromedp.Run(octx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

func (cd *chromedpDriver) Location(ctx context.Context) (string, error) {
	octx, cancel := cd.opCtx(ctx, 0)
	defer cancel()
	var location string
	if err := chromedp.Run(octx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (cd *chromedpDriver) Title(ctx context.Context) (string, error) {
	octx, cancel := cd.opCtx(ctx, 0)
	defer cancel()
	var title string
	if err := chromedp.Run(octx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (cd *chromedpDriver) LastStatus() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.status
}

func (cd *chromedpDriver) SetNetworkListener(urlPattern string, respChan chan []types.NetworkResponse) {
	chromedp.ListenTarget(cd.pageCtx, func(ev any) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if strings.Contains(ev.Response.URL, urlPattern) {
				cd.requestCache.Store(ev.RequestID, ev.Response.URL)
			}
		case *network.EventLoadingFinished:
			// 加载完成后响应体才完整可取
			cachedUrl, ok := cd.requestCache.Load(ev.RequestID)
			if !ok {
				return
			}
			urlStr, ok := cachedUrl.(string)
			if !ok || !strings.Contains(urlStr, urlPattern) {
				return
			}
			cd.requestCache.Delete(ev.RequestID)
			go cd.fetchResponseBody(ev.RequestID, urlStr, urlPattern, respChan)
		}
	})
}

func (cd *chromedpDriver) fetchResponseBody(requestID network.RequestID, cachedUrl, urlPattern string, respChan chan []types.NetworkResponse) {
	c := chromedp.FromContext(cd.pageCtx)
	ctx := cdp.WithExecutor(cd.pageCtx, c.Target)
	body, err := network.GetResponseBody(requestID).Do(ctx)
	if err != nil {
		cd.logger.Warn("获取响应体失败", zap.String("url", cachedUrl), zap.Error(err))
		return
	}
	respChan <- []types.NetworkResponse{
		{
			Url:        cachedUrl,
			UrlPattern: urlPattern,
			Body:       body,
		},
	}
}

func (cd *chromedpDriver) PerformScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds int) error {
	// 清掉上一轮攒下的请求缓存
	cd.requestCache.Range(func(key, value any) bool {
		cd.requestCache.Delete(key)
		return true
	})
	err := chromedp.Run(cd.pageCtx,
		cd.performScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds),
		chromedp.Sleep(time.Duration(standardSleepSeconds)*time.Second+time.Duration(randomDelaySeconds)*time.Second),
	)
	if err != nil {
		return fmt.Errorf("浏览器自动化执行失败: %w", err)
	}
	return nil
}

func (cd *chromedpDriver) performScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds int) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		cd.logger.Info("开始执行滑动操作", zap.Int("times", scrollTimes))

		localRand := rand.New(rand.NewSource(time.Now().UnixNano()))

		for i := range scrollTimes {
			// 随机选择滑动策略
			switch localRand.Intn(2) {
			case 0:
				// 滑动到底部
				js := `window.scrollTo({
					top: document.body.scrollHeight,
					behavior: 'smooth'
				});`
				if err := chromedp.Evaluate(js, nil).Do(ctx); err != nil {
					return fmt.Errorf("滑动到底部失败: %w", err)
				}
				cd.logger.Debug("滑动到底部", zap.Int("round", i+1))
			case 1:
				// 滑动到随机比例
				ratio := 0.7 + localRand.Float64()*0.3 // 70%-100% 位置
				js := fmt.Sprintf(`window.scrollTo({
					top: document.body.scrollHeight * %f,
					behavior: 'smooth'
				});`, ratio)
				if err := chromedp.Evaluate(js, nil).Do(ctx); err != nil {
					return fmt.Errorf("滑动到比例位置失败: %w", err)
				}
				cd.logger.Debug("滑动到随机位置", zap.Int("round", i+1), zap.Float64("ratio", ratio))
			}

			randomDelay := time.Duration(localRand.Float64() * float64(randomDelaySeconds) * float64(time.Second))
			totalSleep := time.Duration(standardSleepSeconds)*time.Second + randomDelay
			if err := chromedp.Sleep(totalSleep).Do(ctx); err != nil {
				return err
			}
		}

		// 最终滑动和等待
		finalJS := `window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'});`
		if err := chromedp.Evaluate(finalJS, nil).Do(ctx); err != nil {
			return fmt.Errorf("最终滑动失败: %w", err)
		}
		if err := chromedp.Sleep(2 * time.Duration(randomDelaySeconds) * time.Second).Do(ctx); err != nil {
			return err
		}

		cd.logger.Info("完成滑动操作", zap.Int("times", scrollTimes))
		return nil
	}
}

func (cd *chromedpDriver) PerformClick(selector string, clickCount, standardSleepSeconds, randomDelaySeconds int) error {
	localRand := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := range clickCount {
		err := chromedp.Run(cd.pageCtx,
			chromedp.WaitVisible(selector, chromedp.ByQuery),
			chromedp.Click(selector, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("第 %d 次点击失败: %w", i+1, err)
		}

		randomDelay := time.Duration(localRand.Float64() * float64(randomDelaySeconds) * float64(time.Second))
		time.Sleep(time.Duration(standardSleepSeconds)*time.Second + randomDelay)
	}

	cd.logger.Info("完成点击操作", zap.String("selector", selector), zap.Int("count", clickCount))
	return nil
}
