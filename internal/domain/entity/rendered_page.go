package entity

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/LouYuanbo1/renderbridge/internal/domain/model"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// RenderedPage 一次渲染得到的页面实体,字段从页面源码中抽取
type RenderedPage struct {
	Url         string
	Status      int
	Title       string
	Description string
	Content     string
	Links       []string
}

// ParseRenderedPage 从渲染后的页面源码抽取实体
// 链接去重并补全为绝对地址,只保留http(s)协议
func ParseRenderedPage(pageUrl string, status int, body []byte) (*RenderedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析页面失败 %s: %w", pageUrl, err)
	}

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	description, _ := doc.Find(`meta[name="description"]`).First().Attr("content")

	links := make([]string, 0, 16)
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := resolveHref(pageUrl, strings.TrimSpace(href))
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	// 正文只要可见文本
	doc.Find("script, style, noscript").Remove()
	content := strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	return &RenderedPage{
		Url:         pageUrl,
		Status:      status,
		Title:       title,
		Description: strings.TrimSpace(description),
		Content:     content,
		Links:       links,
	}, nil
}

func resolveHref(pageUrl, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	base, err := url.Parse(pageUrl)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

// ToDocument ID由URL推导,同一URL重复爬取会覆盖旧文档
func (rp *RenderedPage) ToDocument() *model.PageDoc {
	return &model.PageDoc{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(rp.Url)).String(),
		Url:         rp.Url,
		Title:       rp.Title,
		Description: rp.Description,
		Content:     rp.Content,
		Links:       rp.Links,
		Status:      rp.Status,
		CrawledAt:   time.Now(),
	}
}
