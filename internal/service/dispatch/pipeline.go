package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socivy/rebel/internal/domain"
	"github.com/socivy/rebel/internal/mailgun"
	"github.com/socivy/rebel/internal/pkg/logger"
	"github.com/socivy/rebel/internal/render"
	"github.com/socivy/rebel/internal/service/eligibility"
)

// Deps are the collaborators a Pipeline is built from.
type Deps struct {
	Requesters Requesters
	Store      Store
	History    eligibility.HistoryRepository
	// Renderer defaults to a fresh render.Engine.
	Renderer Renderer
}

// Status is the result of one send.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome describes a send that did not return an error, or one that
// failed after the provider accepted it.
type Outcome struct {
	Status  Status
	Records []domain.DeliveryRecord
	Result  *mailgun.SendResult
	// Err is the provider error behind a silent failure.
	Err error
}

// OK reports whether mail went out and was recorded.
func (o Outcome) OK() bool { return o.Status == StatusSent }

// SendOptions tune one Send or SendEach call.
type SendOptions struct {
	// Force skips the eligibility check.
	Force bool
	// FailSilently turns provider rejections into a Failed outcome.
	// Connection failures are returned regardless.
	FailSilently bool
	// Variables are Mailgun recipient-variables.
	Variables map[string]map[string]any
	// TemplateVars are merged over the template's static Vars.
	TemplateVars map[string]any
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	beforeSend func(ctx context.Context, owners []domain.Owner) error
	afterSend  func(ctx context.Context, records []domain.DeliveryRecord) error
	validator  eligibility.OwnerValidator
	varsFor    func(owner domain.Owner) map[string]any
	now        func() time.Time
	newID      func() string
}

// WithBeforeSend runs fn with the eligible owners before anything is rendered.
// An error aborts the send.
func WithBeforeSend(fn func(ctx context.Context, owners []domain.Owner) error) Option {
	return func(o *options) { o.beforeSend = fn }
}

// WithAfterSend runs fn with the persisted records.
func WithAfterSend(fn func(ctx context.Context, records []domain.DeliveryRecord) error) Option {
	return func(o *options) { o.afterSend = fn }
}

// WithOwnerValidator adds a business-rule filter after the policy check.
func WithOwnerValidator(v eligibility.OwnerValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithTemplateVarsFor supplies per-owner template variables for SendEach.
func WithTemplateVarsFor(fn func(owner domain.Owner) map[string]any) Option {
	return func(o *options) { o.varsFor = fn }
}

// WithClock replaces time.Now for record timestamps and frequency windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid.NewString for record ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// Pipeline sends one Template.
type Pipeline struct {
	tpl       Template
	requester Requester
	store     Store
	renderer  Renderer
	engine    *eligibility.Engine
	opts      options
	log       *logger.Entry
}

// NewPipeline validates tpl and wires its collaborators. Any problem with
// the template, its policy or its profile is reported here as
// ErrConfiguration, never at send time.
func NewPipeline(tpl Template, deps Deps, opts ...Option) (*Pipeline, error) {
	if missing := tpl.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	switch tpl.RecipientField {
	case "":
		tpl.RecipientField = RecipientTo
	case RecipientTo, RecipientCC, RecipientBCC:
	default:
		return nil, fmt.Errorf("%w: unknown recipient field %q", ErrConfiguration, tpl.RecipientField)
	}
	if deps.Requesters == nil || deps.Store == nil || deps.History == nil {
		return nil, fmt.Errorf("%w: requesters, store and history are required", ErrConfiguration)
	}

	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := []eligibility.Option{eligibility.WithClock(o.now)}
	if o.validator != nil {
		engineOpts = append(engineOpts, eligibility.WithOwnerValidator(o.validator))
	}
	engine, err := eligibility.NewEngine(deps.History, tpl.Policy, tpl.Label, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	requester, err := deps.Requesters(tpl.Profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = render.NewEngine()
	}
	for part, src := range map[string]string{
		"subject": tpl.SubjectTemplate,
		"plain":   tpl.PlainTemplate,
		"html":    tpl.HTMLTemplate,
	} {
		if src == "" {
			continue
		}
		if err := renderer.Parse(tpl.cacheName(part), src); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	return &Pipeline{
		tpl:       tpl,
		requester: requester,
		store:     deps.Store,
		renderer:  renderer,
		engine:    engine,
		opts:      o,
		log:       logger.With("component", "dispatch", "label", tpl.Label),
	}, nil
}

// Template returns the template the pipeline sends.
func (p *Pipeline) Template() Template { return p.tpl }

// Send addresses every eligible owner in a single provider request and
// records one DeliveryRecord per recipient.
func (p *Pipeline) Send(ctx context.Context, owners []domain.Owner, opts SendOptions) (Outcome, error) {
	recipients, ok, err := p.eligible(ctx, owners, opts.Force)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		p.log.Info("no eligible owners, skipping", "owners", len(owners))
		return Outcome{Status: StatusSkipped}, nil
	}

	if p.opts.beforeSend != nil {
		if err := p.opts.beforeSend(ctx, recipients); err != nil {
			return Outcome{}, p.stageErr(StageHooks, err)
		}
	}

	content, err := p.render(opts.TemplateVars, nil)
	if err != nil {
		return Outcome{}, p.stageErr(StageRendering, err)
	}

	variables := opts.Variables
	if p.tpl.BatchMode && variables == nil {
		variables = placeholderVariables()
	}

	return p.submit(ctx, recipients, content, variables, opts.FailSilently)
}

// eligible returns the owners to send to. ok is false when eligibility
// leaves nobody; forced sends go to every owner given, even none.
func (p *Pipeline) eligible(ctx context.Context, owners []domain.Owner, force bool) ([]domain.Owner, bool, error) {
	if force {
		return owners, true, nil
	}
	filtered, err := p.engine.Filter(ctx, owners)
	if err != nil {
		return nil, false, p.stageErr(StageFiltering, err)
	}
	return filtered, len(filtered) > 0, nil
}

type renderedContent struct {
	subject string
	text    string
	html    string
}

func (p *Pipeline) render(callVars map[string]any, ownerVars map[string]any) (renderedContent, error) {
	vars := map[string]interface{}{"style_content": p.tpl.StyleSheet}
	for k, v := range p.tpl.Vars {
		vars[k] = v
	}
	for k, v := range callVars {
		vars[k] = v
	}
	for k, v := range ownerVars {
		vars[k] = v
	}

	var c renderedContent
	var err error
	if c.subject, err = p.renderer.Render(p.tpl.cacheName("subject"), p.tpl.SubjectTemplate, vars); err != nil {
		return c, err
	}
	// Subjects come from multi-line template files; a header can't hold newlines.
	c.subject = strings.TrimSpace(c.subject)
	if c.text, err = p.renderer.Render(p.tpl.cacheName("plain"), p.tpl.PlainTemplate, vars); err != nil {
		return c, err
	}
	if p.tpl.HTMLTemplate != "" {
		if c.html, err = p.renderer.Render(p.tpl.cacheName("html"), p.tpl.HTMLTemplate, vars); err != nil {
			return c, err
		}
	}
	return c, nil
}

// submit sends one request to recipients and persists the result.
func (p *Pipeline) submit(ctx context.Context, recipients []domain.Owner, content renderedContent, variables map[string]map[string]any, failSilently bool) (Outcome, error) {
	from := p.tpl.From
	if from == "" {
		from = p.requester.DefaultFrom()
	}

	tags := append(append([]string(nil), p.tpl.Tags...), p.tpl.Label)

	byEmail, emails := uniqueRecipients(recipients)
	req := mailgun.MessageRequest{
		Subject:     content.subject,
		From:        from,
		Text:        content.text,
		HTML:        content.html,
		Variables:   variables,
		Tags:        tags,
		Inlines:     p.tpl.Inlines,
		Attachments: p.tpl.Attachments,
	}
	switch p.tpl.RecipientField {
	case RecipientCC:
		req.CC = emails
	case RecipientBCC:
		req.BCC = emails
	default:
		req.To = emails
	}

	result, err := p.requester.Send(ctx, req)
	if err != nil {
		return p.sendFailed(err, failSilently)
	}

	records := make([]domain.DeliveryRecord, 0, len(emails))
	now := p.opts.now()
	for _, email := range emails {
		records = append(records, domain.DeliveryRecord{
			ID:        p.opts.newID(),
			EmailFrom: from,
			EmailTo:   email,
			MessageID: result.MessageID(),
			Profile:   p.tpl.Profile,
			Owner:     byEmail[email].Ref(),
			Tags:      append([]string(nil), tags...),
			CreatedAt: now,
		})
	}

	saved, err := p.store.SaveBatch(ctx, p.tpl.Label, records)
	if err != nil {
		p.log.Error("mail sent but not recorded", "message_id", result.MessageID(), "error", err)
		return Outcome{Status: StatusFailed, Result: &result, Err: err}, p.stageErr(StagePersisting, err)
	}
	p.log.Info("mail sent", "message_id", result.MessageID(), "recipients", len(saved))

	out := Outcome{Status: StatusSent, Records: saved, Result: &result}
	if p.opts.afterSend != nil {
		if err := p.opts.afterSend(ctx, saved); err != nil {
			return out, p.stageErr(StageHooks, err)
		}
	}
	return out, nil
}

// sendFailed applies the failure policy: connection errors always
// propagate, provider errors only when the caller did not ask for silence.
func (p *Pipeline) sendFailed(err error, failSilently bool) (Outcome, error) {
	var connErr *mailgun.ConnectionError
	if errors.As(err, &connErr) {
		p.log.Error("provider unreachable", "error", err)
		return Outcome{}, p.stageErr(StageSubmitting, err)
	}

	var apiErr *mailgun.ProviderAPIError
	if errors.As(err, &apiErr) && failSilently {
		p.log.Warn("provider rejected mail, failing silently", "status", apiErr.StatusCode, "error", apiErr.Message)
		return Outcome{Status: StatusFailed, Err: err}, nil
	}
	return Outcome{}, p.stageErr(StageSubmitting, err)
}

func (p *Pipeline) stageErr(stage Stage, err error) error {
	return &StageError{Label: p.tpl.Label, Stage: stage, Err: err}
}

// uniqueRecipients maps each address to the last owner listed for it.
// Addresses keep the order of their first appearance.
func uniqueRecipients(owners []domain.Owner) (map[string]domain.Owner, []string) {
	byEmail := make(map[string]domain.Owner, len(owners))
	emails := make([]string, 0, len(owners))
	for _, o := range owners {
		email := o.Email()
		if _, seen := byEmail[email]; !seen {
			emails = append(emails, email)
		}
		byEmail[email] = o
	}
	return byEmail, emails
}
