package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MessageRateLimit  int           `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL            time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "echo.db",
		UploadDir:         "uploads",
		MaxMessageBytes:   1 << 20,
		MessageRateLimit:  120,
		LogLevel:          "info",
		JWTSecret:         "change-me",
		JWTIssuer:         "echo-server",
		JWTAudience:       "echo-clients",
		JWTTTL:            24 * time.Hour,
	}
}
