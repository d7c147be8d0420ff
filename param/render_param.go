package param

import (
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
)

type WaitState string

const (
	WaitLoad    WaitState = "load"
	WaitStable  WaitState = "stable"
	WaitIdle    WaitState = "idle"
	WaitVisible WaitState = "visible"
	WaitReady   WaitState = "ready"
)

// DefaultRenderTimeout 请求和配置都未给出超时时的兜底值
const DefaultRenderTimeout = 30 * time.Second

// WaitCondition 导航完成后的显式等待条件
// Seconds为0时沿用本次请求的生效超时
type WaitCondition struct {
	State    WaitState `json:"state"`
	Selector string    `json:"selector"`
	Seconds  int       `json:"seconds"`
}

func (wc *WaitCondition) IsValid() bool {
	switch wc.State {
	case WaitLoad, WaitStable, WaitIdle:
		return true
	case WaitVisible, WaitReady:
		return wc.Selector != ""
	default:
		return false
	}
}

// Script 页面就绪后按序执行的JS函数字面量,形如 () => document.title
// StoreAs非空时,执行结果写入响应Meta的对应键
type Script struct {
	Source  string `json:"source"`
	StoreAs string `json:"store_as"`
}

// RenderRequest 一次浏览器渲染请求
// Cookies与CookiePairs可以同时提供,CookiePairs只携带键值对,
// 作用域由驱动按本次导航的URL补全
type RenderRequest struct {
	Url            string            `json:"url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Cookies        []*types.Cookie   `json:"cookies"`
	CookiePairs    map[string]string `json:"cookie_pairs"`
	WaitUntil      *WaitCondition    `json:"wait_until"`
	Screenshot     bool              `json:"screenshot"`
	Scripts        []*Script         `json:"scripts"`
	Meta           map[string]any    `json:"meta"`
}

func (rr *RenderRequest) IsValid() bool {
	if rr.Url == "" || rr.TimeoutSeconds < 0 {
		return false
	}
	if rr.WaitUntil != nil && !rr.WaitUntil.IsValid() {
		return false
	}
	for _, script := range rr.Scripts {
		if script == nil || script.Source == "" {
			return false
		}
	}
	return true
}

// EffectiveTimeout 超时取值顺序:请求自带 > 配置默认 > DefaultRenderTimeout
func (rr *RenderRequest) EffectiveTimeout(defaultTimeout time.Duration) time.Duration {
	if rr.TimeoutSeconds > 0 {
		return time.Duration(rr.TimeoutSeconds) * time.Second
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return DefaultRenderTimeout
}

// AllCookies 合并两种形态的Cookie,键值对形态补成结构体
func (rr *RenderRequest) AllCookies() []*types.Cookie {
	if len(rr.Cookies) == 0 && len(rr.CookiePairs) == 0 {
		return nil
	}
	cookies := make([]*types.Cookie, 0, len(rr.Cookies)+len(rr.CookiePairs))
	cookies = append(cookies, rr.Cookies...)
	for name, value := range rr.CookiePairs {
		cookies = append(cookies, &types.Cookie{Name: name, Value: value})
	}
	return cookies
}
