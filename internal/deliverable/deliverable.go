// Package deliverable extracts the final questionnaire from an assistant
// reply and renders it for export.
package deliverable

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ErrNotFound is returned when a reply holds no markdown block.
var ErrNotFound = errors.New("no markdown deliverable in reply")

var fenceRe = regexp.MustCompile("(?i)```markdown\\n?([\\s\\S]*?)```")

var (
	md     = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy = bluemonday.UGCPolicy()
)

// Extract 提取第一个 markdown 代码块
// Extract returns the trimmed body of the first ```markdown block of text.
// The fence tag is matched case-insensitively here, unlike the marker the
// aggregator looks for.
func Extract(text string) (string, error) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNotFound
	}
	body := strings.TrimSpace(m[1])
	if body == "" {
		return "", ErrNotFound
	}
	return body, nil
}

// RenderHTML converts markdown to sanitised HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// Document wraps rendered HTML in a minimal standalone page.
func Document(title, markdown string) (string, error) {
	body, err := RenderHTML(markdown)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"fr\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	b.WriteString("</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// Title returns the text of the first heading, or the first non-empty line.
func Title(markdown string) string {
	first := ""
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if first == "" {
			first = line
		}
	}
	return first
}
