// Package mailgun talks to the Mailgun v3 API for one sending profile:
// submitting messages, listing events and fetching stored messages.
package mailgun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/socivy/rebel/internal/config"
	"github.com/socivy/rebel/internal/pkg/httpretry"
	"github.com/socivy/rebel/internal/pkg/logger"
)

const invalidAddressMarker = "is not a valid address"

// Client is a Mailgun API client bound to one profile
type Client struct {
	profile  string
	baseURL  string
	domain   string
	apiKey   string
	from     string
	testMode bool

	// sendClient carries message submits and is never retried.
	sendClient httpretry.HTTPDoer
	// readClient carries idempotent reads (events, stored messages).
	readClient httpretry.HTTPDoer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport for both submits and reads.
func WithHTTPClient(doer httpretry.HTTPDoer) Option {
	return func(c *Client) {
		c.sendClient = doer
		c.readClient = doer
	}
}

// NewClient creates a client for the named profile. testMode is the global
// default applied when a request leaves TestMode nil.
func NewClient(name string, p config.ProfileConfig, testMode bool, opts ...Option) *Client {
	base := p.API.APIURL
	if base == "" {
		base = config.DefaultAPIURL
	}
	httpClient := &http.Client{Timeout: p.Timeout()}
	c := &Client{
		profile:    name,
		baseURL:    strings.TrimRight(base, "/"),
		domain:     p.API.Domain,
		apiKey:     p.API.APIKey,
		from:       p.Email,
		testMode:   testMode,
		sendClient: httpClient,
		readClient: httpretry.NewRetryClient(httpClient, 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile returns the profile name this client sends for.
func (c *Client) Profile() string { return c.profile }

// DefaultFrom is the profile's sender address.
func (c *Client) DefaultFrom() string { return c.from }

func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.domain, resource)
}

// Send submits one message. It returns *TargetMissingError without any
// network call when the request has no recipients, *InvalidAddressError or
// *ProviderAPIError for non-2xx answers and *ConnectionError when Mailgun
// could not be reached.
func (c *Client) Send(ctx context.Context, req MessageRequest) (SendResult, error) {
	if len(req.To) == 0 && len(req.CC) == 0 && len(req.BCC) == 0 {
		return SendResult{}, &TargetMissingError{}
	}

	original := req.clone()
	if req.From == "" {
		req.From = c.from
	}
	testMode := c.testMode
	if req.TestMode != nil {
		testMode = *req.TestMode
	}

	body, contentType, err := encodeMessage(req, testMode)
	if err != nil {
		return SendResult{}, fmt.Errorf("encoding message: %w", err)
	}

	endpoint := c.endpoint("messages")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return SendResult{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.SetBasicAuth("api", c.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	respBody, status, err := c.do(c.sendClient, httpReq)
	if err != nil {
		return SendResult{}, err
	}
	if status < 200 || status >= 300 {
		logger.Warn("mailgun: send rejected", "profile", c.profile, "status", status, "body", string(respBody))
		return SendResult{}, classifyError(http.MethodPost, endpoint, status, respBody)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ID == "" {
		return SendResult{}, &ProviderAPIError{
			StatusCode: status,
			Message:    "unreadable send response",
			Method:     http.MethodPost,
			URL:        endpoint,
			Body:       respBody,
		}
	}

	res := SendResult{
		messageID:  strings.Trim(parsed.ID, "<>"),
		message:    parsed.Message,
		recipients: req.Recipients(),
		request:    original,
	}
	logger.Info("mailgun: message queued",
		"profile", c.profile, "message_id", res.messageID, "recipients", len(res.recipients))
	return res, nil
}

// Resubmit sends a previously submitted request again and returns the new
// result. Mailgun assigns a new message id.
func (c *Client) Resubmit(ctx context.Context, req MessageRequest) (SendResult, error) {
	logger.Info("mailgun: resubmitting message", "profile", c.profile, "subject", req.Subject)
	return c.Send(ctx, req)
}

// ListEvents returns the raw event items matching q from the first page of
// the events endpoint.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]json.RawMessage, error) {
	params := url.Values{}
	if q.MessageID != "" {
		params.Set("message-id", q.MessageID)
	}
	if q.Event != "" {
		params.Set("event", q.Event)
	}
	if q.List != "" {
		params.Set("list", q.List)
	}

	endpoint := c.endpoint("events")
	fullURL := endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	body, err := c.get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	var page eventsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parsing events response: %w", err)
	}
	return page.Items, nil
}

// FetchStored downloads a stored message from the URL given in a webhook's
// storage section.
func (c *Client) FetchStored(ctx context.Context, storageURL string) (StoredMessage, error) {
	if !c.trustsStorageURL(storageURL) {
		return StoredMessage{}, fmt.Errorf("%w: %q", ErrUntrustedStorageURL, storageURL)
	}
	body, err := c.get(ctx, storageURL)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("fetching stored message: %w", err)
	}

	var msg StoredMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return StoredMessage{}, fmt.Errorf("parsing stored message: %w", err)
	}
	return msg, nil
}

// trustsStorageURL reports whether the API key may be sent to raw. Only the
// profile's own API host and https hosts under mailgun.net qualify.
func (c *Client) trustsStorageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}
	if base, err := url.Parse(c.baseURL); err == nil &&
		strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return strings.EqualFold(u.Scheme, "https") &&
		(host == "mailgun.net" || strings.HasSuffix(host, ".mailgun.net"))
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(c.readClient, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, classifyError(http.MethodGet, req.URL.Redacted(), status, body)
	}
	return body, nil
}

func (c *Client) do(doer httpretry.HTTPDoer, req *http.Request) ([]byte, int, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return nil, 0, &ConnectionError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ConnectionError{Op: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	return body, resp.StatusCode, nil
}

// classifyError turns a non-2xx answer into a typed error. A body that is
// not JSON still yields a ProviderAPIError.
func classifyError(method, endpoint string, status int, body []byte) error {
	apiErr := &ProviderAPIError{
		StatusCode: status,
		Method:     method,
		URL:        endpoint,
		Body:       body,
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
		if strings.Contains(payload.Message, invalidAddressMarker) {
			return &InvalidAddressError{API: apiErr}
		}
	}
	return apiErr
}

// messageFields builds the form fields of a message in a stable order.
func messageFields(req MessageRequest, testMode bool) (url.Values, error) {
	form := url.Values{}
	form.Set("from", req.From)
	form.Set("subject", req.Subject)
	if req.Text != "" {
		form.Set("text", req.Text)
	}
	if req.HTML != "" {
		form.Set("html", req.HTML)
	}
	for _, tag := range req.Tags {
		form.Add("o:tag", tag)
	}
	form.Set("o:testmode", strconv.FormatBool(testMode))
	if len(req.Variables) > 0 {
		vars, err := json.Marshal(req.Variables)
		if err != nil {
			return nil, fmt.Errorf("marshaling recipient-variables: %w", err)
		}
		form.Set("recipient-variables", string(vars))
	}
	for _, to := range req.To {
		form.Add("to", to)
	}
	for _, cc := range req.CC {
		form.Add("cc", cc)
	}
	for _, bcc := range req.BCC {
		form.Add("bcc", bcc)
	}
	return form, nil
}

// encodeMessage returns the request body and its content type: urlencoded
// without files, multipart when inlines or attachments are present.
func encodeMessage(req MessageRequest, testMode bool) (io.Reader, string, error) {
	form, err := messageFields(req, testMode)
	if err != nil {
		return nil, "", err
	}

	field, files := req.files()
	if len(files) == 0 {
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range form[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
