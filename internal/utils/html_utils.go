package utils

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// EnhanceHTMLContent 给渲染后的评论 HTML 中的链接和图片补充属性
func EnhanceHTMLContent(htmlStr string) string {
	if htmlStr == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}

	// 图片不带 referer，pixiv 等图床会拒绝外链
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		s.SetAttr("referrerpolicy", "no-referrer")
		s.SetAttr("loading", "lazy")
	})

	// 评论里的外链不传递权重
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		rel := s.AttrOr("rel", "")
		if !strings.Contains(rel, "nofollow") {
			s.SetAttr("rel", strings.TrimSpace(rel+" nofollow"))
		}
	})

	// goquery renders full document tags if missing, we just want the body content
	html, _ := doc.Find("body").Html()
	if html == "" {
		html, _ = doc.Html()
	}
	return strings.TrimSpace(html)
}
