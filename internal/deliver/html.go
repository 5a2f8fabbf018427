package deliver

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// RenderHTML converts agent markdown to an HTML fragment for chat
// surfaces that consume HTML instead of markdown.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
