package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, TransportGRPC, cfg.BackendTransport)
	assert.Equal(t, "process_message", cfg.MessageOperation)
	assert.Equal(t, 10*time.Second, cfg.BackendUnaryTimeout)
	assert.Equal(t, int64(25<<20), cfg.UploadMaxBytes)
	assert.Equal(t, insecureDevSecret, cfg.JWTSecret)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BACKEND_TRANSPORT", "REST")
	t.Setenv("SERVICE_A_REST_URL", "http://a.internal:8000/")
	t.Setenv("WS_SEND_TIMEOUT", "250ms")
	t.Setenv("MESSAGE_OPERATION", "uppercase")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, TransportREST, cfg.BackendTransport)
	assert.Equal(t, "http://a.internal:8000", cfg.ServiceARESTURL)
	assert.Equal(t, 250*time.Millisecond, cfg.WSSendTimeout)
	assert.Equal(t, "uppercase", cfg.MessageOperation)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string][2]string{
		"privileged port":   {"PORT", "80"},
		"unknown transport": {"BACKEND_TRANSPORT", "carrier-pigeon"},
		"negative pow":      {"POW_DIFFICULTY", "-1"},
		"tiny frame limit":  {"WS_MAX_FRAME_BYTES", "10"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}
