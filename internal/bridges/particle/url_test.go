package particle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name     string
		apiURL   string
		deviceID string
		want     string
		wantErr  bool
	}{
		{
			name:     "device scoped",
			apiURL:   "https://api.particle.io",
			deviceID: "e00fce68aabbccdd",
			want:     "https://api.particle.io/v1/devices/e00fce68aabbccdd/events?access_token=tok",
		},
		{
			name:   "all devices",
			apiURL: "https://api.particle.io",
			want:   "https://api.particle.io/v1/events?access_token=tok",
		},
		{
			name:   "trailing slash",
			apiURL: "http://localhost:8080/",
			want:   "http://localhost:8080/v1/events?access_token=tok",
		},
		{
			name:   "base path kept",
			apiURL: "http://proxy.local/particle",
			want:   "http://proxy.local/particle/v1/events?access_token=tok",
		},
		{name: "no scheme", apiURL: "api.particle.io", wantErr: true},
		{name: "bad scheme", apiURL: "ftp://api.particle.io", wantErr: true},
		{name: "unparseable", apiURL: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StreamURL(tt.apiURL, tt.deviceID, "tok")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamURL_EscapesToken(t *testing.T) {
	got, err := StreamURL("https://api.particle.io", "", "a&b=c")
	require.NoError(t, err)
	assert.Equal(t, "https://api.particle.io/v1/events?access_token=a%26b%3Dc", got)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t,
		"https://api.particle.io/v1/devices/d1/events?access_token=REDACTED",
		RedactURL("https://api.particle.io/v1/devices/d1/events?access_token=secret123"))

	assert.Equal(t, "http://example.com/x", RedactURL("http://example.com/x"))
	assert.Equal(t, Redacted, RedactURL("http://[::1"))
}

func TestRedactError(t *testing.T) {
	base := errors.New(`Get "https://api.particle.io/v1/events?access_token=secret123": dial tcp: no such host`)

	err := redactError(fmt.Errorf("wrapped: %w", base), "secret123")

	assert.NotContains(t, err.Error(), "secret123")
	assert.Contains(t, err.Error(), "access_token=REDACTED")
	assert.ErrorIs(t, err, base)

	assert.Nil(t, redactError(nil, "secret123"))
	assert.Same(t, base, redactError(base, "other"))
	assert.Same(t, base, redactError(base, ""))
}
