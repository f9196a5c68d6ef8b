// Package config handles layered configuration for the CLI: defaults, config
// file, environment variables and command line flags, in ascending precedence.
package config

import "time"

// Config is the root configuration structure
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// ConnectionString is a complete MySQL DSN; when set it wins over the
	// discrete fields below.
	ConnectionString string `mapstructure:"dsn"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	Pool PoolConfig `mapstructure:"pool"`
}

// PoolConfig holds connection pool settings
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// CompilerConfig holds query compilation settings
type CompilerConfig struct {
	// MaxDepth bounds spec nesting; zero means the compiled-in default.
	MaxDepth int `mapstructure:"max_depth"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}
