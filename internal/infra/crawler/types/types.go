package types

import "time"

// Cookie 导航前注入浏览器的Cookie
// Domain和Url都为空时,由驱动按本次导航的URL补全作用域
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Url      string `json:"url,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"http_only,omitempty"`
}

// RenderResponse 浏览器渲染完成后合成的响应
// Body是渲染后的页面源码(UTF-8),Url是重定向后的最终地址
type RenderResponse struct {
	Url        string
	Status     int
	Body       []byte
	Title      string
	Screenshot []byte
	Meta       map[string]any
	Elapsed    time.Duration
}

type NetworkResponse struct {
	Url        string
	UrlPattern string
	Body       []byte
}

type HtmlContent struct {
	Url             string
	ContentSelector string
	Content         []string
}
