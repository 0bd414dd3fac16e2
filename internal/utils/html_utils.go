package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// linkTextMaxLength 自动识别的长网址在显示时截断
const linkTextMaxLength = 50

// rewriteLinks 所有链接 nofollow；文字就是网址本身且过长时截断显示
// 图片换成 alt 文字
func rewriteLinks(fragment string) string {
	if !strings.Contains(fragment, "<a") && !strings.Contains(fragment, "<img") {
		return strings.TrimSpace(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("rel", "nofollow noopener noreferrer")
		text := s.Text()
		if s.Children().Length() == 0 && looksLikeURL(text) && utf8.RuneCountInString(text) > linkTextMaxLength {
			s.SetText(string([]rune(text)[:linkTextMaxLength]) + "...")
		}
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, _ := s.Attr("alt")
		s.ReplaceWithHtml(html.EscapeString(alt))
	})

	// goquery 会补全 html/body，只取 body 内容
	out, err := doc.Find("body").Html()
	if err != nil {
		return fragment
	}
	return strings.TrimSpace(out)
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "www.")
}
