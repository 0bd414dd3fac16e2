package utils

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// 评论和正文只是文字：不渲染标题锚点，图片只留 alt
var (
	textRenderer = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(
			htmlrenderer.WithHardWraps(),
			htmlrenderer.WithXHTML(),
		),
	)
	textPolicy = newTextPolicy()
)

func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowElements("del")
	return p
}

// RenderMarkdown 渲染新闻正文或评论：Markdown -> HTML -> 清洗 -> 链接处理
// 裸网址自动变成链接
func RenderMarkdown(source string) string {
	if source == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := textRenderer.Convert([]byte(source), &buf); err != nil {
		return html.EscapeString(source)
	}
	return rewriteLinks(string(textPolicy.SanitizeBytes(buf.Bytes())))
}
