// Package env provides helpers for reading the process environment.
package env

import (
	"os"
	"strings"
)

// WebSocketURL is the environment variable holding the browser endpoint.
const WebSocketURL = "K6BROWSER_WS_URL"

// LookupFunc defines a function to look up a key from the environment.
type LookupFunc func(key string) (string, bool)

// Lookup is the default LookupFunc, backed by os.LookupEnv.
func Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// ConstLookup returns a LookupFunc that reads from a fixed map.
func ConstLookup(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// Map returns every variable visible through lookup among keys.
func Map(lookup LookupFunc, keys ...string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := lookup(k); ok {
			m[k] = v
		}
	}
	return m
}

// BrowserWSURLs returns the browser endpoints set through K6BROWSER_WS_URL,
// which may be a single URL or a comma separated list. The second return
// value is false when the variable is unset or empty.
func BrowserWSURLs(lookup LookupFunc) ([]string, bool) {
	wsURL, ok := lookup(WebSocketURL)
	if !ok || strings.TrimSpace(wsURL) == "" {
		return nil, false
	}

	var urls []string
	for _, part := range strings.Split(wsURL, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}

	return urls, len(urls) > 0
}
