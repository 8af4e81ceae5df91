// Package render turns raw chat text into markup that is safe to display.
package render

import (
	"bytes"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// markdownChars are the characters whose presence routes text through the markdown path.
const markdownChars = "_*~`#"

// Renderer escapes plain text and expands markdown for text that looks like it.
// A Renderer is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New creates a Renderer with strikethrough and emoji shortcodes enabled.
// Raw HTML in the markdown source is never emitted.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, emoji.Emoji),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// IsMarkdown reports whether raw contains any markdown-significant character.
func IsMarkdown(raw string) bool {
	return strings.ContainsAny(raw, markdownChars)
}

// Render returns display markup for raw.
// The input is always HTML-escaped first; markdown expansion runs on the escaped text.
func (r *Renderer) Render(raw string) template.HTML {
	escaped := html.EscapeString(raw)
	if !IsMarkdown(raw) {
		return template.HTML(escaped)
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(escaped), &buf); err != nil {
		return template.HTML(escaped)
	}
	return template.HTML(strings.TrimSpace(r.policy.Sanitize(buf.String())))
}
