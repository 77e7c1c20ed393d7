package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrowserWSURLs(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		vars   map[string]string
		want   []string
		wantOK bool
	}{
		"unset": {vars: nil},
		"empty": {vars: map[string]string{WebSocketURL: " "}},
		"single": {
			vars:   map[string]string{WebSocketURL: "ws://127.0.0.1:9222"},
			want:   []string{"ws://127.0.0.1:9222"},
			wantOK: true,
		},
		"list with trailing comma": {
			vars:   map[string]string{WebSocketURL: "ws://a:1, ws://b:2,"},
			want:   []string{"ws://a:1", "ws://b:2"},
			wantOK: true,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, ok := BrowserWSURLs(ConstLookup(tt.vars))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMap(t *testing.T) {
	t.Parallel()

	lookup := ConstLookup(map[string]string{"A": "1", "B": ""})
	assert.Equal(t, map[string]string{"A": "1", "B": ""}, Map(lookup, "A", "B", "C"))
}
