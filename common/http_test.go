package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/log"
)

// newTestAPIServer serves httpbin plus a small JSON API under /api.
func newTestAPIServer(tb testing.TB) *httptest.Server {
	tb.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())
	mux.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`{"items":[{"id":1,"name":"a"},{"id":2,"name":"b"}],"total":2,"next":null,"ok":true}`))
	})
	mux.HandleFunc("/api/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[`))
	})
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s3cr3t", Path: "/"})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(c.Value))
	})

	srv := httptest.NewServer(mux)
	tb.Cleanup(srv.Close)
	return srv
}

func newTestAPIRequestContext(tb testing.TB, opts APIRequestOptions) *APIRequestContext {
	tb.Helper()

	r, err := NewAPIRequestContext(opts, log.NewNullLogger())
	require.NoError(tb, err)
	tb.Cleanup(r.Dispose)
	return r
}

func TestAPIRequestContext(t *testing.T) {
	t.Parallel()

	srv := newTestAPIServer(t)
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{Headers: map[string]string{"X-Suite": "api"}})
		resp, err := r.Get(ctx, srv.URL+"/get?q=1", &FetchOptions{Headers: map[string]string{"X-Case": "get"}})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.Status())
		assert.Equal(t, "OK", resp.StatusText())
		assert.True(t, resp.OK())
		assert.Contains(t, resp.Header("Content-Type"), "application/json")

		u, err := resp.JSON("url")
		require.NoError(t, err)
		assert.Contains(t, u.String(), "/get?q=1")
		args, err := resp.JSON("args.q.0")
		require.NoError(t, err)
		assert.Equal(t, "1", args.String())
		suite, err := resp.JSON("headers.X-Suite.0")
		require.NoError(t, err)
		assert.Equal(t, "api", suite.String())
		c, err := resp.JSON("headers.X-Case.0")
		require.NoError(t, err)
		assert.Equal(t, "get", c.String())
	})
	t.Run("status", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		resp, err := r.Get(ctx, srv.URL+"/status/404", nil)
		require.NoError(t, err, "error statuses are responses, not errors")
		assert.Equal(t, http.StatusNotFound, resp.Status())
		assert.False(t, resp.OK())
	})
	t.Run("base_url", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{BaseURL: srv.URL + "/api"})
		for _, path := range []string{"items", "/items"} {
			resp, err := r.Get(ctx, path, nil)
			require.NoError(t, err, path)
			assert.Equal(t, srv.URL+"/api/items", resp.URL(), path)
		}
		resp, err := r.Get(ctx, srv.URL+"/get", nil)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/get", resp.URL(), "absolute URLs ignore the base")
	})
	t.Run("cookies", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{BaseURL: srv.URL})
		resp, err := r.Get(ctx, "/api/whoami", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.Status())

		_, err = r.Post(ctx, "/api/login", nil)
		require.NoError(t, err)
		resp, err = r.Get(ctx, "/api/whoami", nil)
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", resp.Text())
	})
	t.Run("post", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		resp, err := r.Post(ctx, srv.URL+"/post", &FetchOptions{
			Headers: map[string]string{"Content-Type": "application/json"},
			Data:    []byte(`{"name":"k6"}`),
		})
		require.NoError(t, err)
		name, err := resp.JSON("json.name")
		require.NoError(t, err)
		assert.Equal(t, "k6", name.String())
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		_, err := r.Get(ctx, srv.URL+"/delay/1", &FetchOptions{Timeout: 50 * time.Millisecond})

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		require.ErrorIs(t, err, ErrTimedOut)
		assert.Equal(t, "50ms", te.Timeout)
		assert.Equal(t, "GET "+srv.URL+"/delay/1", te.Operation)
	})
	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		_, err := r.Get(cctx, srv.URL+"/get", nil)
		require.ErrorIs(t, err, context.Canceled)
		var te *TimeoutError
		assert.False(t, errors.As(err, &te), "a canceled context is not a timeout")
	})
	t.Run("disposed", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		r.Dispose()
		_, err := r.Get(ctx, srv.URL+"/get", nil)
		require.ErrorIs(t, err, ErrRequestContextDisposed)
	})
	t.Run("invalid_json", func(t *testing.T) {
		t.Parallel()

		r := newTestAPIRequestContext(t, APIRequestOptions{})
		resp, err := r.Get(ctx, srv.URL+"/api/broken", nil)
		require.NoError(t, err)
		_, err = resp.JSON("items")
		require.ErrorContains(t, err, "not valid JSON")
	})
}

func TestExpectResponse(t *testing.T) {
	t.Parallel()

	srv := newTestAPIServer(t)
	r := newTestAPIRequestContext(t, APIRequestOptions{BaseURL: srv.URL})

	resp, err := r.Get(context.Background(), "/api/items", &FetchOptions{
		Headers: map[string]string{"X-Request-Id": "42"},
	})
	require.NoError(t, err)
	notFound, err := r.Get(context.Background(), "/status/404", nil)
	require.NoError(t, err)

	t.Run("passes", func(t *testing.T) {
		t.Parallel()

		for name, assertion := range map[string]func() error{
			"ok":           ExpectResponse(resp).ToBeOK,
			"not_ok":       ExpectResponse(notFound).Not().ToBeOK,
			"status":       func() error { return ExpectResponse(notFound).ToHaveStatus(404) },
			"header":       func() error { return ExpectResponse(resp).ToHaveHeader("X-Request-Id", "42") },
			"field_number": func() error { return ExpectResponse(resp).ToHaveJSONField("total", 2) },
			"field_string": func() error { return ExpectResponse(resp).ToHaveJSONField("items.1.name", "b") },
			"field_object": func() error {
				return ExpectResponse(resp).ToHaveJSONField("items.0", map[string]any{"id": 1, "name": "a"})
			},
			"field_null":       func() error { return ExpectResponse(resp).ToHaveJSONField("next", nil) },
			"not_field":        func() error { return ExpectResponse(resp).Not().ToHaveJSONField("total", 3) },
			"type_array":       func() error { return ExpectResponse(resp).ToHaveJSONType("items", "array") },
			"type_boolean":     func() error { return ExpectResponse(resp).ToHaveJSONType("ok", "boolean") },
			"type_null":        func() error { return ExpectResponse(resp).ToHaveJSONType("next", "null") },
			"not_type_missing": func() error { return ExpectResponse(resp).Not().ToHaveJSONType("nope", "string") },
		} {
			assert.NoError(t, assertion(), name)
		}
	})
	t.Run("failures", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name      string
			assertion func() error
			expected  string
			actual    string
		}{
			{
				name:      "ok",
				assertion: ExpectResponse(notFound).ToBeOK,
				expected:  "2xx status", actual: "404",
			},
			{
				name:      "header",
				assertion: func() error { return ExpectResponse(resp).ToHaveHeader("X-Request-Id", "7") },
				expected:  `X-Request-Id: "7"`, actual: `X-Request-Id: "42"`,
			},
			{
				name:      "field",
				assertion: func() error { return ExpectResponse(resp).ToHaveJSONField("total", "2") },
				expected:  `total="2"`, actual: "total=2",
			},
			{
				name:      "field_missing",
				assertion: func() error { return ExpectResponse(resp).ToHaveJSONField("count", 2) },
				expected:  "count=2", actual: "count=missing",
			},
			{
				name:      "type",
				assertion: func() error { return ExpectResponse(resp).ToHaveJSONType("total", "string") },
				expected:  "total of type string", actual: "total of type number",
			},
		}
		for _, tt := range tests {
			var ae *AssertionError
			require.ErrorAs(t, tt.assertion(), &ae, tt.name)
			assert.Equal(t, tt.expected, ae.Expected, tt.name)
			assert.Equal(t, tt.actual, ae.Actual, tt.name)
			assert.Empty(t, ae.Timeout, "response assertions are not retried")
		}
	})
}
