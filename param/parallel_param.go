package param

import "github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"

type OperationType string

const (
	OperationRender OperationType = "render"
	OperationScroll OperationType = "scroll"
	OperationClick  OperationType = "click"
	OperationXClick OperationType = "xclick"
)

type ListenerConfig struct {
	UrlPatterns []string                    `json:"url_patterns"`
	ListenerCh  chan *types.NetworkResponse `json:"listener"`
}

type HtmlContentConfig struct {
	ContentSelectors []string                `json:"content_selectors"`
	HtmlContentsCh   chan *types.HtmlContent `json:"html_contents"`
}

// UrlOperation 并行爬取的单个URL任务
// render只渲染取页面内容,scroll/click/xclick在渲染后追加交互动作
type UrlOperation struct {
	Url                  string             `json:"url"`
	OperationType        OperationType      `json:"operation_type"`
	WaitUntil            *WaitCondition     `json:"wait_until"`
	NumActions           int                `json:"num_actions"`
	StandardSleepSeconds int                `json:"standard_sleep_seconds"`
	RandomDelaySeconds   int                `json:"random_delay_seconds"`
	ClickSelector        string             `json:"click_selector"`
	ListenerConfig       *ListenerConfig    `json:"listener_config"`
	HtmlContentConfig    *HtmlContentConfig `json:"html_content_config"`
}

func (uo *UrlOperation) IsValid() bool {
	if uo.Url == "" ||
		(uo.ListenerConfig == nil &&
			uo.HtmlContentConfig == nil) {
		return false
	}
	if uo.WaitUntil != nil && !uo.WaitUntil.IsValid() {
		return false
	}
	switch uo.OperationType {
	case OperationRender:
		return true
	case OperationScroll:
		return uo.NumActions > 0 &&
			uo.StandardSleepSeconds > 0 &&
			uo.RandomDelaySeconds > 0
	case OperationClick, OperationXClick:
		return uo.NumActions > 0 &&
			uo.StandardSleepSeconds > 0 &&
			uo.RandomDelaySeconds > 0 &&
			uo.ClickSelector != ""
	default:
		return false
	}
}
