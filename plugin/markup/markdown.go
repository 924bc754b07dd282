package markup

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderMarkdown converts model markdown output to message markup.
// Raw HTML in the source is omitted, so generated text cannot forge chips or markers.
func RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return "", errors.Wrap(err, "failed to render markdown")
	}
	return buf.String(), nil
}
