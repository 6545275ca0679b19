package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non-printable runes and collapses runs of whitespace.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

// MetaContent returns the content attribute of <meta name="...">, or "".
func MetaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find("meta[name='" + name + "']").First().Attr("content")
	return strings.TrimSpace(content)
}

// Summarize returns a short human readable description of an html page for
// log output: its title when present, otherwise the beginning of its text.
func Summarize(body []byte, maxLen int) string {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return truncate(CleanText(string(body)), maxLen)
	}
	doc := goquery.NewDocumentFromNode(node)
	title := CleanText(doc.Find("title").First().Text())
	if title != "" {
		return truncate(title, maxLen)
	}
	return truncate(CleanText(GetText(node)), maxLen)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
