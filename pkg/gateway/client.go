// Package gateway is the request/response client of the document-chat
// service. Every call maps to exactly one HTTP request and is never retried.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/metrics"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	baseURL *url.URL
	http    *http.Client
	upload  UploadPolicy
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each call. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithUploadPolicy(p UploadPolicy) Option {
	return func(c *Client) {
		c.upload = p
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		upload:  DefaultUploadPolicy(),
		log:     log.With().Str("component", "gateway").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	// fallback is the message reported when the server gives none
	fallback string
}

func (c *Client) jsonRequest(op, method, path string, payload any, fallback string) (request, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return request{}, errors.Wrapf(err, "%s: encode request", op)
	}
	return request{
		op:          op,
		method:      method,
		path:        path,
		body:        bytes.NewReader(b),
		contentType: "application/json",
		fallback:    fallback,
	}, nil
}

// do performs r and decodes a 2xx body into out (when out is non-nil).
func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if k, ok := KindOf(err); ok {
			outcome = string(k)
		} else if err != nil {
			outcome = "error"
		}
		metrics.GatewayRequests.WithLabelValues(r.op, outcome).Inc()
		metrics.GatewayDuration.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", r.op)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	c.log.Debug().Str("op", r.op).Str("method", r.method).Str("url", req.URL.String()).Msg("request")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", r.op).Msg("request failed")
		return &Error{Kind: KindNetwork, Op: r.op, Message: "request failed", Err: networkCause(ctx, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: r.op, Message: "read response", Err: networkCause(ctx, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(body)
		if msg == "" {
			msg = r.fallback
		}
		c.log.Warn().Str("op", r.op).Int("status", resp.StatusCode).Str("error", msg).Msg("server rejected request")
		return &Error{Kind: KindServer, Op: r.op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Error{Kind: KindParse, Op: r.op, Message: "empty response body"}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindParse, Op: r.op, Message: "unexpected response", Err: err}
	}
	return nil
}

func networkCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, err.Error())
	}
	return err
}

func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
