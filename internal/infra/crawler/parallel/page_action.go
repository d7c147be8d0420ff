package parallel

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/infra/crawler/types"
	"github.com/LouYuanbo1/renderbridge/param"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// navigatePage 导航到目标URL并按等待条件等页面就绪
func navigatePage(page *rod.Page, op *param.UrlOperation) error {
	err := page.Navigate(op.Url)
	if err != nil {
		return fmt.Errorf("导航失败: %w", err)
	}
	return waitPage(page, op.WaitUntil)
}

// waitPage 没有给等待条件时,按加载完成加DOM稳定兜底
func waitPage(page *rod.Page, cond *param.WaitCondition) error {
	if cond == nil {
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("等待加载失败: %w", err)
		}
		if err := page.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			return fmt.Errorf("等待DOM稳定失败: %w", err)
		}
		return nil
	}
	p := page
	if cond.Seconds > 0 {
		p = page.Timeout(time.Duration(cond.Seconds) * time.Second)
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

// executeOperation 渲染型任务导航等待后直接取内容,其余类型先做交互动作
func executeOperation(page *rod.Page, op *param.UrlOperation, logger *zap.Logger) error {
	switch op.OperationType {
	case param.OperationRender:
	case param.OperationClick:
		if err := performPageClick(page, op, logger); err != nil {
			return fmt.Errorf("点击操作失败: %w", err)
		}
	case param.OperationXClick:
		if err := performPageXClick(page, op, logger); err != nil {
			return fmt.Errorf("xPath点击操作失败: %w", err)
		}
	case param.OperationScroll:
		if err := performPageScrolling(page, op, logger); err != nil {
			return fmt.Errorf("滚动操作失败: %w", err)
		}
	default:
		return fmt.Errorf("未知操作类型: %v", op.OperationType)
	}
	return collectPageHtml(page, op, logger)
}

func performPageClick(page *rod.Page, op *param.UrlOperation, logger *zap.Logger) error {
	randomDelay := rand.Float64() * float64(op.RandomDelaySeconds)
	totalSleep := time.Duration((float64(op.StandardSleepSeconds) + randomDelay) * float64(time.Second))

	element, err := page.Element(op.ClickSelector)
	if err != nil {
		return fmt.Errorf("查找元素失败: %w", err)
	}
	for i := range op.NumActions {
		err = element.Click(proto.InputMouseButtonLeft, 1)
		if err != nil {
			return fmt.Errorf("点击失败: %w", err)
		}
		waitListenedRequestIdle(page, op)
		logger.Debug("点击完成", zap.Int("round", i+1), zap.String("selector", op.ClickSelector))
		time.Sleep(totalSleep)
	}

	return nil
}

func performPageXClick(page *rod.Page, op *param.UrlOperation, logger *zap.Logger) error {
	randomDelay := rand.Float64() * float64(op.RandomDelaySeconds)
	totalSleep := time.Duration((float64(op.StandardSleepSeconds) + randomDelay) * float64(time.Second))

	for i := range op.NumActions {
		element, err := page.ElementX(op.ClickSelector)
		if err != nil {
			return fmt.Errorf("查找元素失败: %w", err)
		}
		err = element.Click(proto.InputMouseButtonLeft, 1)
		if err != nil {
			return fmt.Errorf("点击失败: %w", err)
		}
		waitListenedRequestIdle(page, op)
		logger.Debug("xPath点击完成", zap.Int("round", i+1), zap.String("selector", op.ClickSelector))
		time.Sleep(totalSleep)
	}

	return nil
}

func performPageScrolling(page *rod.Page, op *param.UrlOperation, logger *zap.Logger) error {
	randomDelay := rand.Float64() * float64(op.RandomDelaySeconds)
	totalSleep := time.Duration((float64(op.StandardSleepSeconds) + randomDelay) * float64(time.Second))

	for i := range op.NumActions {
		// 获取页面高度
		height, err := page.Eval(`() => document.body.scrollHeight`)
		if err != nil {
			return fmt.Errorf("获取页面高度失败: %w", err)
		}

		// 计算目标滚动位置(随机滚动到 70%-95% 位置)
		totalHeight := height.Value.Int()
		currentScroll := float64(totalHeight) * (0.7 + rand.Float64()*0.25)

		_, err = page.Eval(fmt.Sprintf(`() => {
            window.scrollTo({
                top: %f,
                behavior: 'smooth'
            });
        }`, currentScroll))
		if err != nil {
			logger.Warn("执行Js滚动失败", zap.Error(err))
			// 使用 Rod 的 API 滚动
			err = page.Mouse.Scroll(0, currentScroll, 1)
			if err != nil {
				logger.Warn("执行鼠标滚动失败", zap.Error(err))
				for range 3 {
					err = page.KeyActions().Press(input.AddKey("PageDown", "", "PageDown", 34, 0)).Do()
					if err != nil {
						return fmt.Errorf("执行 PageDown 失败: %w", err)
					}
				}
			}
		}

		logger.Debug("滚动完成", zap.Int("round", i+1), zap.Float64("target", currentScroll))
		waitListenedRequestIdle(page, op)
		time.Sleep(totalSleep)
	}

	return nil
}

// waitListenedRequestIdle 动作后等待被监听的请求静默,没有监听配置时等全部请求
func waitListenedRequestIdle(page *rod.Page, op *param.UrlOperation) {
	var includes []string
	if op.ListenerConfig != nil {
		includes = op.ListenerConfig.UrlPatterns
	}
	wait := page.WaitRequestIdle(time.Second, includes, nil, []proto.NetworkResourceType{proto.NetworkResourceTypeDocument})
	wait()
}

// collectPageHtml 按选择器抓取渲染后的HTML片段,送入内容管道
func collectPageHtml(page *rod.Page, op *param.UrlOperation, logger *zap.Logger) error {
	if op.HtmlContentConfig == nil {
		return nil
	}
	for _, selector := range op.HtmlContentConfig.ContentSelectors {
		elements, err := page.Elements(selector)
		if err != nil {
			return fmt.Errorf("查找元素失败: %w", err)
		}
		contents := make([]string, 0, len(elements))
		for _, element := range elements {
			html, err := element.HTML()
			if err != nil {
				logger.Warn("读取元素HTML失败", zap.String("selector", selector), zap.Error(err))
				continue
			}
			contents = append(contents, html)
		}
		op.HtmlContentConfig.HtmlContentsCh <- &types.HtmlContent{
			Url:             op.Url,
			ContentSelector: selector,
			Content:         contents,
		}
	}
	return nil
}

// checkOperations 过滤无效操作
func checkOperations(operations []*param.UrlOperation, logger *zap.Logger) []*param.UrlOperation {
	validOperations := make([]*param.UrlOperation, 0, len(operations))
	for _, op := range operations {
		if op.IsValid() {
			validOperations = append(validOperations, op)
		} else {
			logger.Warn("无效的操作参数,已经跳过", zap.Any("operation", op))
		}
	}
	return validOperations
}

// closeOperationChannels 关闭全部输出管道,同一管道只关一次
func closeOperationChannels(operations []*param.UrlOperation) {
	listenerChs := make(map[chan *types.NetworkResponse]struct{})
	htmlChs := make(map[chan *types.HtmlContent]struct{})
	for _, op := range operations {
		if op.ListenerConfig != nil && op.ListenerConfig.ListenerCh != nil {
			listenerChs[op.ListenerConfig.ListenerCh] = struct{}{}
		}
		if op.HtmlContentConfig != nil && op.HtmlContentConfig.HtmlContentsCh != nil {
			htmlChs[op.HtmlContentConfig.HtmlContentsCh] = struct{}{}
		}
	}
	for ch := range listenerChs {
		close(ch)
	}
	for ch := range htmlChs {
		close(ch)
	}
}
