package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"

	"github.com/liuxd6825/k6browser/log"
)

// DefaultAPITimeout is the timeout of API requests that set none.
const DefaultAPITimeout = 30 * time.Second

// ErrRequestContextDisposed is returned for requests on a disposed
// APIRequestContext.
var ErrRequestContextDisposed = errors.New("API request context disposed")

// HTTPHeader is a single HTTP header.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// APIRequestOptions configure an APIRequestContext.
type APIRequestOptions struct {
	// BaseURL is prepended to relative request URLs.
	BaseURL string
	// Headers are sent with every request.
	Headers map[string]string
	Timeout time.Duration
	// Client defaults to a client with a cookie jar.
	Client *http.Client
}

// FetchOptions describe one API request.
type FetchOptions struct {
	Method  string
	Headers map[string]string
	Data    []byte
	Timeout time.Duration
}

// APIRequestContext issues HTTP requests outside of any page, sharing
// cookies between them.
type APIRequestContext struct {
	baseURL  *url.URL
	headers  map[string]string
	timeout  time.Duration
	client   *http.Client
	disposed bool

	logger *log.Logger
}

// NewAPIRequestContext creates a request context from opts.
func NewAPIRequestContext(opts APIRequestOptions, logger *log.Logger) (*APIRequestContext, error) {
	r := &APIRequestContext{
		headers: opts.Headers,
		timeout: opts.Timeout,
		client:  opts.Client,
		logger:  logger,
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL %q: %w", opts.BaseURL, err)
		}
		r.baseURL = u
	}
	if r.timeout <= 0 {
		r.timeout = DefaultAPITimeout
	}
	if r.client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		r.client = &http.Client{Jar: jar}
	}
	return r, nil
}

// Get sends a GET request.
func (r *APIRequestContext) Get(ctx context.Context, u string, opts *FetchOptions) (*APIResponse, error) {
	return r.Fetch(ctx, u, withMethod(opts, http.MethodGet))
}

// Post sends a POST request.
func (r *APIRequestContext) Post(ctx context.Context, u string, opts *FetchOptions) (*APIResponse, error) {
	return r.Fetch(ctx, u, withMethod(opts, http.MethodPost))
}

// Fetch sends a request and reads the whole response.
func (r *APIRequestContext) Fetch(ctx context.Context, u string, opts *FetchOptions) (*APIResponse, error) {
	if r.disposed {
		return nil, ErrRequestContextDisposed
	}
	if opts == nil {
		opts = &FetchOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := r.resolve(u)
	if err != nil {
		return nil, err
	}
	r.logger.Debugf("APIRequestContext:Fetch", "method:%s url:%q", method, target)

	timeout := r.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if opts.Data != nil {
		body = bytes.NewReader(opts.Data)
	}
	req, err := http.NewRequestWithContext(tctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request to %q: %w", method, target, err)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Operation: method + " " + target, Timeout: timeout.String(), Cause: err}
		}
		return nil, fmt.Errorf("sending %s request to %q: %w", method, target, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response of %q: %w", target, err)
	}
	return &APIResponse{
		url:        resp.Request.URL.String(),
		status:     resp.StatusCode,
		statusText: http.StatusText(resp.StatusCode),
		headers:    resp.Header,
		body:       data,
	}, nil
}

// Dispose releases idle connections. Later requests fail.
func (r *APIRequestContext) Dispose() {
	r.disposed = true
	r.client.CloseIdleConnections()
}

func (r *APIRequestContext) resolve(u string) (string, error) {
	ref, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", u, err)
	}
	if r.baseURL == nil || ref.IsAbs() {
		return ref.String(), nil
	}
	base := *r.baseURL
	// Relative paths extend the base path rather than replace its last
	// segment.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref.Path = strings.TrimPrefix(ref.Path, "/")
	return base.ResolveReference(ref).String(), nil
}

func withMethod(opts *FetchOptions, method string) *FetchOptions {
	o := FetchOptions{}
	if opts != nil {
		o = *opts
	}
	o.Method = method
	return &o
}

// APIResponse is a fully read HTTP response.
type APIResponse struct {
	url        string
	status     int
	statusText string
	headers    http.Header
	body       []byte
}

// URL returns the final URL, after redirects.
func (r *APIResponse) URL() string { return r.url }

// Status returns the status code.
func (r *APIResponse) Status() int { return r.status }

// StatusText returns the status text of the code.
func (r *APIResponse) StatusText() string { return r.statusText }

// OK reports a 2xx status.
func (r *APIResponse) OK() bool { return r.status >= 200 && r.status <= 299 }

// Header returns the first value of the header name.
func (r *APIResponse) Header(name string) string { return r.headers.Get(name) }

// Headers returns all the response headers.
func (r *APIResponse) Headers() []HTTPHeader {
	hh := make([]HTTPHeader, 0, len(r.headers))
	for name, values := range r.headers {
		for _, v := range values {
			hh = append(hh, HTTPHeader{Name: name, Value: v})
		}
	}
	return hh
}

// Body returns the raw body.
func (r *APIResponse) Body() []byte { return r.body }

// Text returns the body as a string.
func (r *APIResponse) Text() string { return string(r.body) }

// JSON returns the value at the gjson path of the body. An empty path
// returns the whole document.
func (r *APIResponse) JSON(path string) (gjson.Result, error) {
	if !gjson.ValidBytes(r.body) {
		return gjson.Result{}, fmt.Errorf("response body of %q is not valid JSON", r.url)
	}
	if path == "" {
		return gjson.ParseBytes(r.body), nil
	}
	return gjson.GetBytes(r.body, path), nil
}
