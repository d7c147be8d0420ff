package chrome

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

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

type rodDriver struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	router     *rod.HijackRouter
	routerOnce sync.Once
	logger     *zap.Logger

	mu     sync.Mutex
	status int
}

// InitRodDriver 启动或连接浏览器并准备好整个会话复用的页面
// Bin非空时本地启动,否则按ControlUrl连接已有实例
func InitRodDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Driver, error) {
	rd := &rodDriver{logger: logger}

	var controlUrl string
	if cfg.Driver.Bin != "" {
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
		rd.launcher = l
		controlUrl = urlStr
	} else {
		resolved, err := launcher.ResolveURL(cfg.Driver.ControlUrl)
		if err != nil {
			return nil, fmt.Errorf("解析远程浏览器地址失败: %w", err)
		}
		controlUrl = resolved
	}

	browser := rod.New().ControlURL(controlUrl).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	rd.browser = browser

	var (
		page *rod.Page
		err  error
	)
	if cfg.Rod.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		rd.Close()
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}
	rd.page = page

	logger.Info("rod驱动就绪",
		zap.Bool("local", cfg.Driver.Bin != ""),
		zap.Bool("stealth", cfg.Rod.Stealth))
	return rd, nil
}

func (rd *rodDriver) PageContext() context.Context {
	return rd.page.GetContext()
}

func (rd *rodDriver) Close() {
	if rd.router != nil {
		if err := rd.router.Stop(); err != nil {
			rd.logger.Warn("停止网络监听失败", zap.Error(err))
		}
	}
	if rd.browser != nil {
		if err := rd.browser.Close(); err != nil {
			rd.logger.Warn("关闭浏览器失败", zap.Error(err))
		}
	}
	if rd.launcher != nil {
		rd.launcher.Cleanup()
	}
}

func (rd *rodDriver) Navigate(ctx context.Context, pageUrl string, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := rd.page.Context(tctx)

	rd.mu.Lock()
	rd.status = 0
	rd.mu.Unlock()
	// 捕获本次导航主文档的状态码,子frame的文档响应到得更晚,首个为准
	go p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			rd.mu.Lock()
			if rd.status == 0 {
				rd.status = e.Response.Status
			}
			rd.mu.Unlock()
			return true
		}
		return false
	})()

	if err := p.Navigate(pageUrl); err != nil {
		return rd.wrapNavigateErr(pageUrl, err)
	}
	if err := p.WaitLoad(); err != nil {
		return rd.wrapNavigateErr(pageUrl, err)
	}
	return nil
}

func (rd *rodDriver) wrapNavigateErr(pageUrl string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrNavigateTimeout, pageUrl)
	}
	return fmt.Errorf("访问URL失败 %s: %w", pageUrl, err)
}

func (rd *rodDriver) SetCookies(pageUrl string, cookies []*types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, cookie := range cookies {
		cookieUrl := cookie.Url
		if cookieUrl == "" && cookie.Domain == "" {
			cookieUrl = pageUrl
		}
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     path,
			URL:      cookieUrl,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
		})
	}
	if err := rd.page.SetCookies(params); err != nil {
		return fmt.Errorf("注入Cookie失败: %w", err)
	}
	return nil
}

func (rd *rodDriver) Wait(ctx context.Context, cond *param.WaitCondition) error {
	if cond == nil {
		return nil
	}
	p := rd.page.Context(ctx)
	if cond.Seconds > 0 {
		p = p.Timeout(time.Duration(cond.Seconds) * time.Second)
	}
	switch cond.State {
	case param.WaitLoad:
		return p.WaitLoad()
	case param.WaitStable:
		return p.WaitDOMStable(300*time.Millisecond, 0.1)
	case param.WaitIdle:
		wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		wait()
		return p.GetContext().Err()
	case param.WaitReady:
		_, err := p.Element(cond.Selector)
		return err
	case param.WaitVisible:
		el, err := p.Element(cond.Selector)
		if err != nil {
			return err
		}
		return el.WaitVisible()
	default:
		return fmt.Errorf("不支持的等待条件: %s", cond.State)
	}
}

func (rd *rodDriver) Eval(ctx context.Context, fnSource string) (any, error) {
	res, err := rd.page.Context(ctx).Eval(fnSource)
	if err != nil {
		return nil, fmt.Errorf("执行脚本失败: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	return res.Value.Val(), nil
}

func (rd *rodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	shot, err := rd.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return shot, nil
}

func (rd *rodDriver) HTML(ctx context.Context) (string, error) {
	html, err := rd.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("获取页面源码失败: %w", err)
	}
	return html, nil
}

func (rd *rodDriver) Location(ctx context.Context) (string, error) {
	return rd.evalText(ctx, `() => window.location.href`)
}

func (rd *rodDriver) Title(ctx context.Context) (string, error) {
	return rd.evalText(ctx, `() => document.title`)
}

func (rd *rodDriver) evalText(ctx context.Context, fnSource string) (string, error) {
	res, err := rd.page.Context(ctx).Eval(fnSource)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (rd *rodDriver) LastStatus() int {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.status
}

func (rd *rodDriver) SetNetworkListener(urlPattern string, respChan chan []types.NetworkResponse) {
	rd.routerOnce.Do(func() {
		rd.router = rd.browser.HijackRequests()
		go rd.router.Run()
	})
	err := rd.router.Add(urlPattern, "", func(hijack *rod.Hijack) {
		if err := hijack.LoadResponse(http.DefaultClient, true); err != nil {
			rd.logger.Warn("加载被监听的响应失败",
				zap.String("url", hijack.Request.URL().String()),
				zap.Error(err))
			return
		}
		respChan <- []types.NetworkResponse{
			{
				Url:        hijack.Request.URL().String(),
				UrlPattern: urlPattern,
				Body:       []byte(hijack.Response.Body()),
			},
		}
	})
	if err != nil {
		rd.logger.Warn("注册网络监听失败", zap.String("pattern", urlPattern), zap.Error(err))
	}
}

func (rd *rodDriver) PerformScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds int) error {
	rd.logger.Info("开始执行滑动操作", zap.Int("times", scrollTimes))

	localRand := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := range scrollTimes {
		// 随机选择滑动策略
		switch localRand.Intn(2) {
		case 0:
			// 滑动到底部
			js := `() => window.scrollTo({
					top: document.body.scrollHeight,
					behavior: 'smooth'
				})`
			if _, err := rd.page.Eval(js); err != nil {
				return fmt.Errorf("滑动到底部失败: %w", err)
			}
			rd.logger.Debug("滑动到底部", zap.Int("round", i+1))
		case 1:
			// 滑动到随机比例
			ratio := 0.7 + localRand.Float64()*0.3 // 70%-100% 位置
			js := fmt.Sprintf(`() => window.scrollTo({
					top: document.body.scrollHeight * %f,
					behavior: 'smooth'
				})`, ratio)
			if _, err := rd.page.Eval(js); err != nil {
				return fmt.Errorf("滑动到比例位置失败: %w", err)
			}
			rd.logger.Debug("滑动到随机位置", zap.Int("round", i+1), zap.Float64("ratio", ratio))
		}

		randomDelay := time.Duration(localRand.Float64() * float64(randomDelaySeconds) * float64(time.Second))
		time.Sleep(time.Duration(standardSleepSeconds)*time.Second + randomDelay)
	}

	// 最终滑动和等待
	finalJS := `() => window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'})`
	if _, err := rd.page.Eval(finalJS); err != nil {
		return fmt.Errorf("最终滑动失败: %w", err)
	}
	time.Sleep(2 * time.Duration(randomDelaySeconds) * time.Second)

	rd.logger.Info("完成滑动操作", zap.Int("times", scrollTimes))
	return nil
}

func (rd *rodDriver) PerformClick(selector string, clickCount, standardSleepSeconds, randomDelaySeconds int) error {
	localRand := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := range clickCount {
		el, err := rd.page.Element(selector)
		if err != nil {
			return fmt.Errorf("查找点击目标失败 %s: %w", selector, err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("第 %d 次点击失败: %w", i+1, err)
		}

		randomDelay := time.Duration(localRand.Float64() * float64(randomDelaySeconds) * float64(time.Second))
		time.Sleep(time.Duration(standardSleepSeconds)*time.Second + randomDelay)
	}

	rd.logger.Info("完成点击操作", zap.String("selector", selector), zap.Int("count", clickCount))
	return nil
}
