/*
Package configs loads the gateway configuration from environment variables.

Values are read through viper with AutomaticEnv, so every setting below is
overridden by the upper-case environment variable of the same name. Defaults
suit a local development setup; production refuses to start without a
ticket signing secret.
*/
package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend transports accepted by BACKEND_TRANSPORT.
const (
	TransportGRPC = "grpc"
	TransportREST = "rest"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General server settings
	Environment string
	Port        int
	LogLevel    string

	// Security settings
	AllowedOrigins []string
	JWTSecret      string
	PowDifficulty  int
	RateLimitRPS   float64
	RateLimitBurst int

	// Backend settings
	BackendTransport     string
	ServiceAGRPCAddr     string
	ServiceBGRPCAddr     string
	ServiceARESTURL      string
	ServiceBRESTURL      string
	BackendUnaryTimeout  time.Duration
	BackendStreamTimeout time.Duration
	MessageOperation     string

	// WebSocket settings
	WSSendTimeout   time.Duration
	WSMaxFrameBytes int64

	// Upload settings
	UploadMaxBytes   int64
	UploadSessionTTL time.Duration
}

// IsDevelopment reports whether the gateway runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

const insecureDevSecret = "rtgateway_insecure_dev_secret_change_me"

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "")
	v.SetDefault("allowed_origins", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("pow_difficulty", 0)
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 20)

	v.SetDefault("backend_transport", TransportGRPC)
	v.SetDefault("service_a_grpc_addr", "localhost:50051")
	v.SetDefault("service_b_grpc_addr", "localhost:50052")
	v.SetDefault("service_a_rest_url", "http://localhost:8081")
	v.SetDefault("service_b_rest_url", "http://localhost:8082")
	v.SetDefault("backend_unary_timeout", "10s")
	v.SetDefault("backend_stream_timeout", "60s")
	v.SetDefault("message_operation", "process_message")

	v.SetDefault("ws_send_timeout", "5s")
	v.SetDefault("ws_max_frame_bytes", 2<<20)

	v.SetDefault("upload_max_bytes", 25<<20)
	v.SetDefault("upload_session_ttl", "10m")
}

// LoadConfig reads, defaults and validates the configuration.
func LoadConfig() (*AppConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &AppConfig{
		Environment:          strings.TrimSpace(v.GetString("environment")),
		Port:                 v.GetInt("port"),
		LogLevel:             v.GetString("log_level"),
		AllowedOrigins:       splitList(v.GetString("allowed_origins")),
		JWTSecret:            v.GetString("jwt_secret"),
		PowDifficulty:        v.GetInt("pow_difficulty"),
		RateLimitRPS:         v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:       v.GetInt("rate_limit_burst"),
		BackendTransport:     strings.ToLower(strings.TrimSpace(v.GetString("backend_transport"))),
		ServiceAGRPCAddr:     v.GetString("service_a_grpc_addr"),
		ServiceBGRPCAddr:     v.GetString("service_b_grpc_addr"),
		ServiceARESTURL:      strings.TrimRight(v.GetString("service_a_rest_url"), "/"),
		ServiceBRESTURL:      strings.TrimRight(v.GetString("service_b_rest_url"), "/"),
		BackendUnaryTimeout:  v.GetDuration("backend_unary_timeout"),
		BackendStreamTimeout: v.GetDuration("backend_stream_timeout"),
		MessageOperation:     v.GetString("message_operation"),
		WSSendTimeout:        v.GetDuration("ws_send_timeout"),
		WSMaxFrameBytes:      v.GetInt64("ws_max_frame_bytes"),
		UploadMaxBytes:       v.GetInt64("upload_max_bytes"),
		UploadSessionTTL:     v.GetDuration("upload_session_ttl"),
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment", cfg.Environment)
		}
		cfg.JWTSecret = insecureDevSecret
	}

	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("port number %d is outside the allowed range (1024-65535)", c.Port)
	}

	if c.PowDifficulty < 0 || c.PowDifficulty > 8 {
		return fmt.Errorf("POW_DIFFICULTY must be between 0 and 8, got %d", c.PowDifficulty)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	switch c.BackendTransport {
	case TransportGRPC:
		if c.ServiceAGRPCAddr == "" || c.ServiceBGRPCAddr == "" {
			return fmt.Errorf("SERVICE_A_GRPC_ADDR and SERVICE_B_GRPC_ADDR are required for the grpc transport")
		}
	case TransportREST:
		if c.ServiceARESTURL == "" || c.ServiceBRESTURL == "" {
			return fmt.Errorf("SERVICE_A_REST_URL and SERVICE_B_REST_URL are required for the rest transport")
		}
	default:
		return fmt.Errorf("BACKEND_TRANSPORT must be %q or %q, got %q", TransportGRPC, TransportREST, c.BackendTransport)
	}

	if c.BackendUnaryTimeout <= 0 || c.BackendStreamTimeout <= 0 {
		return fmt.Errorf("backend timeouts must be positive")
	}

	if c.MessageOperation == "" {
		return fmt.Errorf("MESSAGE_OPERATION must not be empty")
	}

	if c.WSSendTimeout <= 0 {
		return fmt.Errorf("WS_SEND_TIMEOUT must be positive")
	}

	if c.WSMaxFrameBytes < 1024 {
		return fmt.Errorf("WS_MAX_FRAME_BYTES must be at least 1024, got %d", c.WSMaxFrameBytes)
	}

	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}

	if c.UploadSessionTTL <= 0 {
		return fmt.Errorf("UPLOAD_SESSION_TTL must be positive")
	}

	return nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
