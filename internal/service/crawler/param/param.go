package param

import (
	"github.com/LouYuanbo1/renderbridge/internal/domain/entity"
	"github.com/LouYuanbo1/renderbridge/internal/domain/model"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/chrome"
	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	renderparam "github.com/LouYuanbo1/renderbridge/param"
	"github.com/gocolly/colly/v2"
)

// DefaultStrategy 标准策略:可选浏览器渲染,按选择器解析并入库
type DefaultStrategy[C entity.Crawlable[D], D model.Document] struct {
	EnableJavascript bool
	// RenderTemplate 每个待渲染响应套用的渲染请求模板,Url由响应自身填充
	RenderTemplate *renderparam.RenderRequest
	Selector       string
	HTMLFunc       func(e *colly.HTMLElement) error
	ToCrawlable    func(pageUrl string, status int, body []byte) ([]C, error)
}

// CustomStrategy 渲染后追加驱动层自定义动作,可同时旁路采集API响应
type CustomStrategy[C entity.Crawlable[D], D model.Document] struct {
	EnableJavascript bool
	RenderTemplate   *renderparam.RenderRequest
	// ActionsFunc 渲染完成后在同一页面上执行的动作,如滚动和点击
	ActionsFunc func(driver chrome.Driver) error
	// ListenerPattern 包含该子串的网络响应会被旁路采集到ListenerCh
	ListenerPattern string
	ListenerCh      chan []types.NetworkResponse
	Selector        string
	HTMLFunc        func(e *colly.HTMLElement) error
	ToCrawlable     func(pageUrl string, status int, body []byte) ([]C, error)
}
