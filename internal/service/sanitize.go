package service

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SanitizeText strips HTML markup from s and collapses every whitespace run
// to a single space. Script and style bodies are dropped.
func SanitizeText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseWhitespace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseWhitespace(s)
	}
	doc.Find("script, style").Remove()

	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
