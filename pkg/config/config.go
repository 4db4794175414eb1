package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	Timeout    TimeoutConfig
	OCR        OCRConfig
}

// OCRConfig holds the extraction worker's configuration knobs: tier
// selection, output shaping, retry budget, the judge gateway endpoint
// and credentials, and the job/reply queue names.
type OCRConfig struct {
	MaxOutputBytes       int
	MinValidChars        int
	DefaultLanguage      string
	MaxAttempts          int
	EnabledTiers         []string
	JudgeModel           string
	ValidationTTLSeconds int
	MinConfidence        *float64

	JudgeGatewayURL string
	JudgeAuthHeader1 string
	JudgeAuthValue1  string
	JudgeAuthHeader2 string
	JudgeAuthValue2  string

	JobQueueName        string
	DispatcherQueueName string
	DequeuePollSeconds  int
}

// ValidationTTL returns the configured validation-state TTL as a
// time.Duration, falling back to ocrstate.DefaultTTL's value when
// unset.
func (o OCRConfig) ValidationTTL() time.Duration {
	if o.ValidationTTLSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(o.ValidationTTLSeconds) * time.Second
}

// DequeuePollTimeout returns the BRPOP block timeout as a
// time.Duration.
func (o OCRConfig) DequeuePollTimeout() time.Duration {
	if o.DequeuePollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.DequeuePollSeconds) * time.Second
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	WindowSeconds     int
	DefaultLimit      int
	DefaultBurst      int
	AnonymousLimit    int
	AnonymousBurst    int
	RedisPrefix       string
	EndpointOverrides map[string]EndpointRateLimitConfig
}

// EndpointRateLimitConfig allows customizing limits per endpoint
type EndpointRateLimitConfig struct {
	AuthenticatedLimit int `json:"authenticated_limit"`
	AuthenticatedBurst int `json:"authenticated_burst"`
	AnonymousLimit     int `json:"anonymous_limit"`
	AnonymousBurst     int `json:"anonymous_burst"`
	WindowSeconds      int `json:"window_seconds"`
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-service breaker tuning
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	TimeoutSeconds   int
	IntervalSeconds  int
	ServiceOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific upstream service
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

const (
	DefaultHTTPClientTimeout          = 30
	DefaultDatabaseQueryTimeout       = 10
	DefaultRedisOperationTimeout      = 5
	DefaultRedisReadTimeout           = 5
	DefaultRedisWriteTimeout          = 5
	DefaultWebSocketConnectionTimeout = 60
	DefaultRequestTimeout             = 30

	// Maximum allowed timeouts (prevent misconfigurations)
	MaxHTTPClientTimeout          = 300 // 5 minutes
	MaxDatabaseQueryTimeout       = 60  // 1 minute
	MaxRedisOperationTimeout      = 30  // 30 seconds
	MaxWebSocketConnectionTimeout = 300 // 5 minutes
	MaxRequestTimeout             = 300 // 5 minutes
)

// TimeoutConfig holds timeout configuration for various operations
type TimeoutConfig struct {
	HTTPClientTimeout         int
	DatabaseQueryTimeout     int
	RedisOperationTimeout    int
	RedisReadTimeout         int
	RedisWriteTimeout        int
	WebSocketConnectionTimeout int
	DefaultRequestTimeout    int
	RouteOverrides           map[string]int // Route pattern -> timeout in seconds (e.g., "POST:/api/v1/rides" -> 60)
}

func (t TimeoutConfig) HTTPClientTimeoutDuration() time.Duration {
	return time.Duration(t.HTTPClientTimeout) * time.Second
}

func (t TimeoutConfig) DatabaseQueryTimeoutDuration() time.Duration {
	return time.Duration(t.DatabaseQueryTimeout) * time.Second
}

func (t TimeoutConfig) RedisOperationTimeoutDuration() time.Duration {
	return time.Duration(t.RedisOperationTimeout) * time.Second
}

func (t TimeoutConfig) RedisReadTimeoutDuration() time.Duration {
	if t.RedisReadTimeout > 0 {
		return time.Duration(t.RedisReadTimeout) * time.Second
	}
	return t.RedisOperationTimeoutDuration()
}

func (t TimeoutConfig) RedisWriteTimeoutDuration() time.Duration {
	if t.RedisWriteTimeout > 0 {
		return time.Duration(t.RedisWriteTimeout) * time.Second
	}
	return t.RedisOperationTimeoutDuration()
}

func DefaultRedisReadTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisReadTimeout) * time.Second
}

func DefaultRedisWriteTimeoutDuration() time.Duration {
	return time.Duration(DefaultRedisWriteTimeout) * time.Second
}

func DefaultHTTPClientTimeoutDuration() time.Duration {
	return time.Duration(DefaultHTTPClientTimeout) * time.Second
}

func (t TimeoutConfig) WebSocketConnectionTimeoutDuration() time.Duration {
	return time.Duration(t.WebSocketConnectionTimeout) * time.Second
}

func (t TimeoutConfig) DefaultRequestTimeoutDuration() time.Duration {
	return time.Duration(t.DefaultRequestTimeout) * time.Second
}

// TimeoutForRoute returns the timeout duration for a specific route
// Route format: "METHOD:/path" (e.g., "POST:/api/v1/rides")
// Returns the route-specific timeout if found, otherwise returns the default timeout
func (t TimeoutConfig) TimeoutForRoute(method, path string) time.Duration {
	if t.RouteOverrides == nil {
		return t.DefaultRequestTimeoutDuration()
	}

	routeKey := fmt.Sprintf("%s:%s", method, path)
	if timeoutSeconds, ok := t.RouteOverrides[routeKey]; ok && timeoutSeconds > 0 {
		return time.Duration(timeoutSeconds) * time.Second
	}

	return t.DefaultRequestTimeoutDuration()
}

// Load loads configuration from environment variables, with an
// optional ".env" file in the working directory layered underneath.
func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read .env config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds:  getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:   getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:   getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 40),
			AnonymousLimit: getEnvAsInt("RATE_LIMIT_ANON_LIMIT", 60),
			AnonymousBurst: getEnvAsInt("RATE_LIMIT_ANON_BURST", 20),
			RedisPrefix:    getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", false),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
		Timeout: TimeoutConfig{
			HTTPClientTimeout:         getEnvAsInt("HTTP_CLIENT_TIMEOUT", DefaultHTTPClientTimeout),
			DatabaseQueryTimeout:      getEnvAsInt("DB_QUERY_TIMEOUT", DefaultDatabaseQueryTimeout),
			RedisOperationTimeout:      getEnvAsInt("REDIS_OPERATION_TIMEOUT", DefaultRedisOperationTimeout),
			RedisReadTimeout:          getEnvAsInt("REDIS_READ_TIMEOUT", DefaultRedisReadTimeout),
			RedisWriteTimeout:         getEnvAsInt("REDIS_WRITE_TIMEOUT", DefaultRedisWriteTimeout),
			WebSocketConnectionTimeout: getEnvAsInt("WS_CONNECTION_TIMEOUT", DefaultWebSocketConnectionTimeout),
			DefaultRequestTimeout:      getEnvAsInt("DEFAULT_REQUEST_TIMEOUT", DefaultRequestTimeout),
			RouteOverrides:             make(map[string]int),
		},
		OCR: OCRConfig{
			MaxOutputBytes:       getEnvAsInt("OCR_MAX_OUTPUT_BYTES", 51200),
			MinValidChars:        getEnvAsInt("OCR_MIN_VALID_CHARS", 3),
			DefaultLanguage:      getEnv("OCR_DEFAULT_LANGUAGE", "en"),
			MaxAttempts:          getEnvAsInt("OCR_MAX_ATTEMPTS", 3),
			EnabledTiers:         getEnvAsList("OCR_ENABLED_TIERS", nil),
			JudgeModel:           getEnv("OCR_JUDGE_MODEL", ""),
			ValidationTTLSeconds: getEnvAsInt("OCR_VALIDATION_TTL_SECONDS", 300),
			MinConfidence:        getEnvAsOptionalFloat("OCR_MIN_CONFIDENCE"),
			JudgeGatewayURL:      getEnv("OCR_JUDGE_GATEWAY_URL", ""),
			JudgeAuthHeader1:     getEnv("OCR_JUDGE_AUTH_HEADER_1", "X-Gateway-Key"),
			JudgeAuthValue1:      getEnv("OCR_JUDGE_AUTH_VALUE_1", ""),
			JudgeAuthHeader2:     getEnv("OCR_JUDGE_AUTH_HEADER_2", "X-Gateway-Secret"),
			JudgeAuthValue2:      getEnv("OCR_JUDGE_AUTH_VALUE_2", ""),
			JobQueueName:         getEnv("OCR_JOB_QUEUE_NAME", "ocr.extraction.jobs"),
			DispatcherQueueName:  getEnv("OCR_DISPATCHER_QUEUE_NAME", "jarvis.recipes.jobs"),
			DequeuePollSeconds:   getEnvAsInt("OCR_DEQUEUE_POLL_SECONDS", 5),
		},
	}

	if overrides := getEnv("RATE_LIMIT_ENDPOINTS", ""); overrides != "" {
		var endpointConfig map[string]EndpointRateLimitConfig
		if err := json.Unmarshal([]byte(overrides), &endpointConfig); err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ENDPOINTS value: %w", err)
		}
		cfg.RateLimit.EndpointOverrides = endpointConfig
	}

	if breakerOverrides := getEnv("CB_SERVICE_OVERRIDES", ""); breakerOverrides != "" {
		var serviceConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &serviceConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_SERVICE_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ServiceOverrides = serviceConfig
	}

	if timeoutOverrides := getEnv("ROUTE_TIMEOUT_OVERRIDES", ""); timeoutOverrides != "" {
		var routeTimeouts map[string]int
		if err := json.Unmarshal([]byte(timeoutOverrides), &routeTimeouts); err != nil {
			return nil, fmt.Errorf("invalid ROUTE_TIMEOUT_OVERRIDES value: %w", err)
		}
		for route, timeout := range routeTimeouts {
			if timeout <= 0 {
				delete(routeTimeouts, route)
			}
		}
		cfg.Timeout.RouteOverrides = routeTimeouts
	}

	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = int((time.Minute).Seconds())
	}

	if cfg.Resilience.CircuitBreaker.TimeoutSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.TimeoutSeconds = 30
	}

	if cfg.Resilience.CircuitBreaker.IntervalSeconds <= 0 {
		cfg.Resilience.CircuitBreaker.IntervalSeconds = 60
	}

	if cfg.Resilience.CircuitBreaker.FailureThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.FailureThreshold = 5
	}

	if cfg.Resilience.CircuitBreaker.SuccessThreshold <= 0 {
		cfg.Resilience.CircuitBreaker.SuccessThreshold = 1
	}

	// Validate and set HTTP client timeout
	if cfg.Timeout.HTTPClientTimeout <= 0 {
		cfg.Timeout.HTTPClientTimeout = DefaultHTTPClientTimeout
	} else if cfg.Timeout.HTTPClientTimeout > MaxHTTPClientTimeout {
		return nil, fmt.Errorf("HTTP_CLIENT_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.HTTPClientTimeout, MaxHTTPClientTimeout)
	}

	// Validate and set database query timeout
	if cfg.Timeout.DatabaseQueryTimeout <= 0 {
		cfg.Timeout.DatabaseQueryTimeout = DefaultDatabaseQueryTimeout
	} else if cfg.Timeout.DatabaseQueryTimeout > MaxDatabaseQueryTimeout {
		return nil, fmt.Errorf("DB_QUERY_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.DatabaseQueryTimeout, MaxDatabaseQueryTimeout)
	}

	// Validate and set Redis operation timeout
	if cfg.Timeout.RedisOperationTimeout <= 0 {
		cfg.Timeout.RedisOperationTimeout = DefaultRedisOperationTimeout
	} else if cfg.Timeout.RedisOperationTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_OPERATION_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisOperationTimeout, MaxRedisOperationTimeout)
	}

	// Validate and set Redis read timeout
	if cfg.Timeout.RedisReadTimeout <= 0 {
		cfg.Timeout.RedisReadTimeout = DefaultRedisReadTimeout
	} else if cfg.Timeout.RedisReadTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_READ_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisReadTimeout, MaxRedisOperationTimeout)
	}

	// Validate and set Redis write timeout
	if cfg.Timeout.RedisWriteTimeout <= 0 {
		cfg.Timeout.RedisWriteTimeout = DefaultRedisWriteTimeout
	} else if cfg.Timeout.RedisWriteTimeout > MaxRedisOperationTimeout {
		return nil, fmt.Errorf("REDIS_WRITE_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.RedisWriteTimeout, MaxRedisOperationTimeout)
	}

	// Validate and set WebSocket connection timeout
	if cfg.Timeout.WebSocketConnectionTimeout <= 0 {
		cfg.Timeout.WebSocketConnectionTimeout = DefaultWebSocketConnectionTimeout
	} else if cfg.Timeout.WebSocketConnectionTimeout > MaxWebSocketConnectionTimeout {
		return nil, fmt.Errorf("WS_CONNECTION_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.WebSocketConnectionTimeout, MaxWebSocketConnectionTimeout)
	}

	// Validate and set default request timeout
	if cfg.Timeout.DefaultRequestTimeout <= 0 {
		cfg.Timeout.DefaultRequestTimeout = DefaultRequestTimeout
	} else if cfg.Timeout.DefaultRequestTimeout > MaxRequestTimeout {
		return nil, fmt.Errorf("DEFAULT_REQUEST_TIMEOUT (%d seconds) exceeds maximum allowed value of %d seconds", cfg.Timeout.DefaultRequestTimeout, MaxRequestTimeout)
	}

	// Validate route-specific timeout overrides
	for route, timeout := range cfg.Timeout.RouteOverrides {
		if timeout > MaxRequestTimeout {
			return nil, fmt.Errorf("route timeout for '%s' (%d seconds) exceeds maximum allowed value of %d seconds", route, timeout, MaxRequestTimeout)
		}
	}

	return cfg, nil
}

// SettingsFor returns effective breaker settings for a specific upstream service name
func (c CircuitBreakerConfig) SettingsFor(service string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if c.ServiceOverrides != nil {
		if override, ok := c.ServiceOverrides[service]; ok {
			if override.FailureThreshold > 0 {
				settings.FailureThreshold = override.FailureThreshold
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
			if override.TimeoutSeconds > 0 {
				settings.TimeoutSeconds = override.TimeoutSeconds
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// Close releases resources associated with the configuration.
func (c *Config) Close() error {
	return nil
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Helper functions wrap viper lookups so the rest of this file reads
// the same as a plain os.Getenv-backed config, whichever of .env file,
// real environment, or default value ends up supplying the value.
func getEnv(key, defaultValue string) string {
	viper.SetDefault(key, defaultValue)
	return viper.GetString(key)
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated env var, trimming whitespace
// and dropping empty entries. Returns defaultValue when unset.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsOptionalFloat returns nil when the env var is unset or
// unparseable, matching the "unset by default" confidence floor.
func getEnvAsOptionalFloat(key string) *float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &value
}

// Window returns the configured rate limit window duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}
