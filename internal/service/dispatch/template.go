package dispatch

import (
	"context"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
)

// RecipientField is the header the owners are addressed in.
type RecipientField string

const (
	RecipientTo  RecipientField = "to"
	RecipientCC  RecipientField = "cc"
	RecipientBCC RecipientField = "bcc"
)

// placeholderVariables forces Mailgun into batch sending when the caller has
// no per-recipient variables: each recipient then gets an individual copy
// instead of seeing the whole list.
func placeholderVariables() map[string]map[string]any {
	return map[string]map[string]any{"nobody@example.com": {"no-data": "no"}}
}

// Template describes one kind of mail. Subject, plain body, profile and
// label are required; everything else is optional.
type Template struct {
	// Name keys the render cache; defaults to Label.
	Name string

	Profile string
	Label   string

	SubjectTemplate string
	PlainTemplate   string
	HTMLTemplate    string
	// StyleSheet is exposed to the templates as style_content.
	StyleSheet string

	From   string
	Tags   []string
	Policy domain.Policy

	BatchMode      bool
	RecipientField RecipientField

	Inlines     []mailgun.File
	Attachments []mailgun.File

	// Vars are static template variables.
	Vars map[string]any
}

func (t Template) cacheName(part string) string {
	name := t.Name
	if name == "" {
		name = t.Label
	}
	return name + "." + part
}

func (t Template) missing() []string {
	var out []string
	if t.SubjectTemplate == "" {
		out = append(out, "subject template")
	}
	if t.PlainTemplate == "" {
		out = append(out, "plain template")
	}
	if t.Profile == "" {
		out = append(out, "profile")
	}
	if t.Label == "" {
		out = append(out, "label")
	}
	return out
}

// Requester submits messages for one profile. *mailgun.Client implements it.
type Requester interface {
	Send(ctx context.Context, req mailgun.MessageRequest) (mailgun.SendResult, error)
	DefaultFrom() string
}

// Requesters resolves a profile name to its Requester.
type Requesters func(profile string) (Requester, error)

// FromRegistry adapts a mailgun.Registry.
func FromRegistry(r *mailgun.Registry) Requesters {
	return func(profile string) (Requester, error) {
		c, err := r.Client(profile)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Renderer compiles and renders named templates. *render.Engine implements it.
type Renderer interface {
	Parse(name, src string) error
	Render(name, src string, vars map[string]interface{}) (string, error)
}
