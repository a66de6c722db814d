package post

import (
	"strings"

	"golang.org/x/net/html"
)

// summaryMaxLength は一覧表示用サマリーの最大文字数（rune単位）。
const summaryMaxLength = 200

// extractText はHTMLからプレーンテキストを抽出する。
// タグは除去し、ブロック要素の境界は空白1つに正規化する。
// 不正なHTMLでもパース可能な範囲で処理する（html.Parseはエラーを返さない入力を許容する）。
func extractText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " ")
}

// extractSummary はHTMLコンテンツから一覧表示用のサマリーを生成する。
// プレーンテキストの冒頭summaryMaxLength文字を返す。
func extractSummary(rawHTML string) string {
	text := extractText(rawHTML)
	runes := []rune(text)
	if len(runes) <= summaryMaxLength {
		return text
	}
	return string(runes[:summaryMaxLength])
}

// FirstImageURL はHTMLコンテンツ内の最初のimgタグのsrcを返す。
// imgタグが存在しない場合は空文字列を返す。
// カバー画像が明示的に指定されない場合の一覧サムネイルの代替に使う。
func FirstImageURL(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var found string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, attr := range n.Attr {
				if attr.Key == "src" && attr.Val != "" {
					found = attr.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return found
}
