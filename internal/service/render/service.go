package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"
	"go.uber.org/zap"
)

var (
	// ErrRenderTimeout 页面在生效超时内没有加载完成,调用方据此丢弃该请求
	ErrRenderTimeout = errors.New("render: navigation timed out")
	// ErrInvalidRequest 渲染请求参数不合法
	ErrInvalidRequest = errors.New("render: invalid request")
	// ErrClosed 服务已关闭
	ErrClosed = errors.New("render: service closed")
)

// RenderService 把渲染请求交给浏览器驱动执行,合成渲染后的响应
// 浏览器进程按需启动:首个渲染请求到来之前不占任何浏览器资源
type RenderService interface {
	ProcessRequest(ctx context.Context, request *param.RenderRequest) (*types.RenderResponse, error)
	// Driver 返回持有的浏览器驱动,首个渲染请求之前为nil
	Driver() chrome.Driver
	Close()
}

type renderService struct {
	cfg    *config.Config
	logger *zap.Logger

	defaultTimeout time.Duration

	mu         sync.Mutex
	driver     chrome.Driver
	initDriver func(ctx context.Context) (chrome.Driver, error)
	closed     bool
}

// InitRenderService 校验驱动配置并准备渲染服务,此时浏览器不启动
func InitRenderService(cfg *config.Config, logger *zap.Logger) (RenderService, error) {
	if err := chrome.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rs := &renderService{
		cfg:            cfg,
		logger:         logger,
		defaultTimeout: time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
	}
	rs.initDriver = func(ctx context.Context) (chrome.Driver, error) {
		return chrome.InitDriver(ctx, cfg, logger)
	}
	return rs, nil
}

// ProcessRequest 按 注入Cookie->导航->等待->截图->执行脚本 的顺序渲染页面
// 导航超时统一映射为ErrRenderTimeout
func (rs *renderService) ProcessRequest(ctx context.Context, request *param.RenderRequest) (*types.RenderResponse, error) {
	if request == nil || !request.IsValid() {
		return nil, ErrInvalidRequest
	}
	driver, err := rs.acquireDriver(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	timeout := request.EffectiveTimeout(rs.defaultTimeout)

	if cookies := request.AllCookies(); len(cookies) > 0 {
		if err := driver.SetCookies(request.Url, cookies); err != nil {
			return nil, fmt.Errorf("设置Cookie失败: %w", err)
		}
	}

	rs.logger.Info("开始渲染", zap.String("url", request.Url), zap.Duration("timeout", timeout))
	if err := driver.Navigate(ctx, request.Url, timeout); err != nil {
		if errors.Is(err, chrome.ErrNavigateTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrRenderTimeout, request.Url)
		}
		return nil, err
	}

	if request.WaitUntil != nil {
		cond := *request.WaitUntil
		if cond.Seconds <= 0 {
			cond.Seconds = int(timeout / time.Second)
		}
		if err := driver.Wait(ctx, &cond); err != nil {
			return nil, fmt.Errorf("等待条件未满足: %w", err)
		}
	}

	meta := make(map[string]any, len(request.Meta)+len(request.Scripts)+1)
	for k, v := range request.Meta {
		meta[k] = v
	}

	var screenshot []byte
	if request.Screenshot {
		screenshot, err = driver.Screenshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("截图失败: %w", err)
		}
		meta["screenshot"] = screenshot
	}

	for _, script := range request.Scripts {
		value, err := driver.Eval(ctx, script.Source)
		if err != nil {
			rs.logger.Warn("执行脚本失败", zap.String("url", request.Url), zap.Error(err))
			continue
		}
		if script.StoreAs != "" {
			meta[script.StoreAs] = value
		}
	}

	return rs.composeResponse(ctx, driver, request, meta, screenshot, started)
}

// composeResponse 以渲染后的页面状态合成响应
// 最终URL取重定向后的地址,状态码观测不到时回落为200
func (rs *renderService) composeResponse(
	ctx context.Context,
	driver chrome.Driver,
	request *param.RenderRequest,
	meta map[string]any,
	screenshot []byte,
	started time.Time,
) (*types.RenderResponse, error) {
	body, err := driver.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取页面源码失败: %w", err)
	}

	finalUrl, err := driver.Location(ctx)
	if err != nil || finalUrl == "" {
		rs.logger.Warn("读取最终URL失败,沿用请求URL", zap.String("url", request.Url), zap.Error(err))
		finalUrl = request.Url
	}

	title, err := driver.Title(ctx)
	if err != nil {
		rs.logger.Warn("读取页面标题失败", zap.String("url", request.Url), zap.Error(err))
		title = ""
	}

	status := driver.LastStatus()
	if status == 0 {
		status = 200
	}

	elapsed := time.Since(started)
	rs.logger.Info("渲染完成",
		zap.String("url", finalUrl),
		zap.Int("status", status),
		zap.Int("bodyBytes", len(body)),
		zap.Duration("elapsed", elapsed))

	return &types.RenderResponse{
		Url:        finalUrl,
		Status:     status,
		Body:       []byte(body),
		Title:      title,
		Screenshot: screenshot,
		Meta:       meta,
		Elapsed:    elapsed,
	}, nil
}

// acquireDriver 返回已持有的驱动,没有时初始化一个,并发安全且只初始化一次
func (rs *renderService) acquireDriver(ctx context.Context) (chrome.Driver, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return nil, ErrClosed
	}
	if rs.driver != nil {
		return rs.driver, nil
	}
	driver, err := rs.initDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化浏览器驱动失败: %w", err)
	}
	rs.driver = driver
	rs.logger.Info("浏览器驱动已按需启动", zap.String("driver", rs.cfg.Driver.Name))
	return driver, nil
}

func (rs *renderService) Driver() chrome.Driver {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.driver
}

// Close 退出持有的浏览器,从未渲染过时什么也不做,可重复调用
func (rs *renderService) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return
	}
	rs.closed = true
	if rs.driver != nil {
		rs.driver.Close()
		rs.driver = nil
	}
}
