// Package render renders mail subjects and bodies with the Liquid template
// language.
package render

import (
	"fmt"
	"html"
	"net/url"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/osteele/liquid"
)

// Engine parses and renders Liquid templates. Parsed templates are cached by
// name, so a name must always refer to the same source.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewEngine creates an engine with the mail filters registered.
func NewEngine() *Engine {
	e := &Engine{engine: liquid.NewEngine()}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	// {{ first_name | default: "Friend" }}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	e.engine.RegisterFilter("capitalize", func(s string) string {
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return s
		}
		return string(unicode.ToUpper(r)) + s[size:]
	})

	// {{ body | truncate: 50 }} counts characters, not bytes.
	e.engine.RegisterFilter("truncate", func(s string, length int) string {
		runes := []rune(s)
		if length < 0 {
			length = 0
		}
		if len(runes) <= length {
			return s
		}
		if length <= 3 {
			return string(runes[:length])
		}
		return string(runes[:length-3]) + "..."
	})

	e.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	e.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Parse compiles src under name and reports syntax errors. Later Render
// calls with the same name reuse the compiled template.
func (e *Engine) Parse(name, src string) error {
	_, err := e.compile(name, src)
	return err
}

// Render executes the template registered under name, compiling src first
// if name has not been seen.
func (e *Engine) Render(name, src string, vars map[string]interface{}) (string, error) {
	tpl, err := e.compile(name, src)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(vars)
	if rerr != nil {
		return "", fmt.Errorf("render %s: %w", name, rerr)
	}
	return out, nil
}

func (e *Engine) compile(name, src string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(name); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := e.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	actual, _ := e.cache.LoadOrStore(name, tpl)
	return actual.(*liquid.Template), nil
}

// Forget drops a cached template, e.g. after its source changed.
func (e *Engine) Forget(name string) {
	e.cache.Delete(name)
}
