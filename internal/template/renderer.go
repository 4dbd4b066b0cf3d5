// Package template renders per-recipient email bodies from a batch
// template using @fieldName placeholders.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// fieldPattern matches @fieldName placeholders. Field names are the
// word-character column names taken from the ingested sheet header.
var fieldPattern = regexp.MustCompile(`@(\w+)`)

// Rendered is a fully prepared message for one recipient.
type Rendered struct {
	Subject string
	HTML    string
}

// Renderer turns a batch template plus one recipient's row data into a
// complete HTML document. Substitution fails open: a placeholder whose
// field is missing from the row stays in the output verbatim, so a bad
// column name never blocks a send.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Substitute replaces every @fieldName with the matching row value.
// Unknown fields are left untouched.
func Substitute(text string, data map[string]string) string {
	return fieldPattern.ReplaceAllStringFunc(text, func(match string) string {
		field := match[1:]
		if value, ok := data[field]; ok {
			return value
		}
		return match
	})
}

// Render produces the subject and HTML body for one recipient.
//
// In HTML mode the template is trusted markup and is embedded as-is.
// In plain mode newlines become <br> so the text survives the HTML
// envelope. The signature, when present, is appended after a
// horizontal rule and gets the same treatment.
func (r *Renderer) Render(template, subject, signature string, htmlMode bool, data map[string]string) Rendered {
	body := Substitute(template, data)
	if !htmlMode {
		body = strings.ReplaceAll(body, "\n", "<br>\n")
	}

	// The signature is dropped when substitution leaves nothing, so a
	// template of placeholders with empty values adds no separator.
	if sig := Substitute(signature, data); sig != "" {
		if !htmlMode {
			sig = strings.ReplaceAll(sig, "\n", "<br>\n")
		}
		body += "\n<hr>\n" + sig
	}

	return Rendered{
		Subject: Substitute(subject, data),
		HTML:    wrapDocument(body),
	}
}

func wrapDocument(body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
%s
</body>
</html>`, body)
}

// EmbedPixel inserts the tracking embed code just before the closing
// body tag, or appends it when the document has none.
func EmbedPixel(html, embedCode string) string {
	if embedCode == "" {
		return html
	}
	if i := strings.LastIndex(html, "</body>"); i >= 0 {
		return html[:i] + embedCode + "\n" + html[i:]
	}
	return html + embedCode
}
