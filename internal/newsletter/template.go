package newsletter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateEngine renders Liquid templates for outbound mail, with parsed
// templates cached by source.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateEngine creates an engine with the filters the email bodies use.
func NewTemplateEngine() *TemplateEngine {
	engine := liquid.NewEngine()

	// {{ name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &TemplateEngine{engine: engine}
}

// Render renders source against bindings. Missing variables render empty,
// which is the right behavior for production sends.
func (e *TemplateEngine) Render(source string, bindings map[string]interface{}) (string, error) {
	tmpl, err := e.parse(source)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}
	out, err := tmpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}

func (e *TemplateEngine) parse(source string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tmpl, err := e.engine.ParseString(source)
	if err != nil {
		return nil, err
	}
	e.cache.Store(source, tmpl)
	return tmpl, nil
}

// InjectPreviewText prepends a hidden preheader span to an HTML body so
// inbox preview panes show the campaign's preview text instead of the
// first body line.
func InjectPreviewText(html, previewText string) string {
	if previewText == "" || html == "" {
		return html
	}

	preheader := fmt.Sprintf(
		`<div style="display:none;font-size:1px;color:#ffffff;line-height:1px;max-height:0px;max-width:0px;opacity:0;overflow:hidden;">%s</div>`,
		previewText,
	)

	bodyIdx := strings.Index(strings.ToLower(html), "<body")
	if bodyIdx >= 0 {
		if closeIdx := strings.Index(html[bodyIdx:], ">"); closeIdx >= 0 {
			insertAt := bodyIdx + closeIdx + 1
			return html[:insertAt] + preheader + html[insertAt:]
		}
	}
	return preheader + html
}

// StripTags produces a crude plain-text alternative from an HTML body.
// Good enough for the text/plain part of transactional mail.
func StripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
