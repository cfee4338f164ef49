// Package connector holds the registry of supported third-party services and
// the HTTP connector that calls them on behalf of a stored credential.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/faucetdb/keygate/internal/errs"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of an upstream body is relayed.
const maxResponseBytes = 10 << 20

// forwardHeaders are copied from the caller's request to the upstream.
var forwardHeaders = []string{"Accept", "Accept-Language", "Content-Type"}

// Call describes one upstream request made under a credential.
type Call struct {
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Body     io.Reader
	Secret   string
	Metadata map[string]string
}

// Result is the relayed upstream response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Connector performs upstream calls. Each call gets its own short-lived
// client; there are no retries at this layer.
type Connector struct {
	registry  *Registry
	timeout   time.Duration
	transport http.RoundTripper
}

// New creates a Connector. A non-positive timeout selects DefaultTimeout.
func New(registry *Registry, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{registry: registry, timeout: timeout}
}

// Registry returns the service registry backing the connector.
func (c *Connector) Registry() *Registry {
	return c.registry
}

// Do sends call to the named service and returns the upstream response.
// A deadline overrun maps to errs.ErrUpstreamTimeout and any other
// transport failure to errs.ErrUpstream.
func (c *Connector) Do(ctx context.Context, service string, call Call) (*Result, error) {
	spec, err := c.registry.Get(service)
	if err != nil {
		return nil, err
	}

	target, err := buildURL(spec, call)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, call.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrValidation, err)
	}
	for _, h := range forwardHeaders {
		if v := call.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if spec.Auth == AuthBearer {
		req.Header.Set("Authorization", "Bearer "+call.Secret)
	}
	for header, field := range spec.MetadataHeader {
		if v := call.Metadata[field]; v != "" {
			req.Header.Set(header, v)
		}
	}

	client := &http.Client{Timeout: c.timeout, Transport: c.transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(service, err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s: response body exceeds %d bytes", errs.ErrUpstream, service, maxResponseBytes)
	}
	return &Result{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Ping issues a HEAD request to the service's base URL.
func (c *Connector) Ping(ctx context.Context, service string) error {
	spec, err := c.registry.Get(service)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, spec.BaseURL, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: c.timeout, Transport: c.transport}
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(service, err)
	}
	resp.Body.Close()
	return nil
}

func buildURL(spec ServiceSpec, call Call) (string, error) {
	base, err := url.Parse(strings.TrimRight(spec.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url for %q: %w", spec.Name, err)
	}
	base.Path = base.Path + "/" + strings.TrimLeft(call.Path, "/")

	q := url.Values{}
	for k, vs := range call.Query {
		q[k] = append([]string(nil), vs...)
	}
	if spec.Auth == AuthQuery {
		q.Set(spec.AuthParam, call.Secret)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// classifyTransportError strips the request URL from err, since query-style
// auth puts the secret in it.
func classifyTransportError(service string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", errs.ErrUpstreamTimeout, service, err)
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrUpstream, service, err)
}
