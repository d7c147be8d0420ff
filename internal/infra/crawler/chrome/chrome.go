package chrome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/config"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"

	"go.uber.org/zap"
)

const (
	DriverRod      = "rod"
	DriverChromedp = "chromedp"
)

var (
	ErrDriverNotConfigured = errors.New("chrome: driver name must be set")
	ErrTargetNotConfigured = errors.New("chrome: either driver bin or control url must be set")
	ErrUnknownDriver       = errors.New("chrome: unknown driver name")
	ErrNavigateTimeout     = errors.New("chrome: navigate timeout")
)

// Driver 浏览器驱动,封装整个爬取会话内复用的单个浏览器进程
// Navigate超时返回ErrNavigateTimeout,其余方法作用于最近一次导航的页面
type Driver interface {
	PageContext() context.Context
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	SetCookies(url string, cookies []*types.Cookie) error
	Wait(ctx context.Context, cond *param.WaitCondition) error
	Eval(ctx context.Context, fnSource string) (any, error)
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	LastStatus() int
	PerformClick(selector string, clickCount, standardSleepSeconds, randomDelaySeconds int) error
	PerformScrolling(scrollTimes, standardSleepSeconds, randomDelaySeconds int) error
	SetNetworkListener(urlPattern string, respChan chan []types.NetworkResponse)
	Close()
}

// ValidateConfig 检查驱动配置,Bin与ControlUrl至少要有一个
func ValidateConfig(cfg *config.Config) error {
	if cfg.Driver.Name == "" {
		return ErrDriverNotConfigured
	}
	switch cfg.Driver.Name {
	case DriverRod, DriverChromedp:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver.Name)
	}
	if cfg.Driver.Bin == "" && cfg.Driver.ControlUrl == "" {
		return ErrTargetNotConfigured
	}
	return nil
}

// InitDriver 按配置启动本地浏览器或连接远程浏览器
func InitDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Driver, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver.Name {
	case DriverChromedp:
		return InitChromedpDriver(ctx, cfg, logger)
	default:
		return InitRodDriver(ctx, cfg, logger)
	}
}
