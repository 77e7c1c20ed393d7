package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		"go syntax":    {in: "1m30s", want: 90 * time.Second},
		"milliseconds": {in: "250", want: 250 * time.Millisecond},
		"fractional":   {in: "1.5", want: 1500 * time.Microsecond},
		"garbage":      {in: "soon", wantErr: true},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNullDurationDecoding(t *testing.T) {
	t.Parallel()

	var d NullDuration
	require.NoError(t, json.Unmarshal([]byte(`"5s"`), &d))
	assert.Equal(t, NullDurationFrom(5*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.False(t, d.Valid)

	var cfg struct {
		Timeout NullDuration `yaml:"timeout"`
		Grace   NullDuration `yaml:"grace"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 10s\ngrace: ~\n"), &cfg))
	assert.Equal(t, 10*time.Second, cfg.Timeout.TimeDuration())
	assert.True(t, cfg.Timeout.Valid)
	assert.False(t, cfg.Grace.Valid)

	require.NoError(t, d.UnmarshalText(nil))
	assert.False(t, d.Valid)

	b, err := json.Marshal(NewNullDuration(time.Second, true))
	require.NoError(t, err)
	assert.JSONEq(t, `"1s"`, string(b))
}
