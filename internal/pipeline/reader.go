package pipeline

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// ReaderView reduces a page to its main article and returns it as a
// standalone HTML document. Checking the article view keeps navigation,
// teasers and comments out of keypoint extraction.
func ReaderView(pageHTML, pageURL string) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse URL: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(pageHTML), parsed)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return "", "", fmt.Errorf("readability: no article content in %s", pageURL)
	}

	title := strings.TrimSpace(article.Title)
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body><article>")
	if title != "" {
		b.WriteString("<h1>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h1>")
	}
	b.WriteString(article.Content)
	b.WriteString("</article></body></html>\n")
	return b.String(), title, nil
}
