package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Chain    ChainConfig
	Server   ServerConfig
	Auth     AuthConfig
	Listener ListenerConfig
	Redis    RedisConfig
	Seed     SeedConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ChainConfig holds registry contract connection settings
type ChainConfig struct {
	RpcUrl          string
	ContractAddress string
	PrivateKey      string
	ChainId         int64
	ConfirmTimeout  time.Duration
	CallTimeout     time.Duration
}

// Configured reports whether enough settings are present to reach the registry.
func (c ChainConfig) Configured() bool {
	return c.RpcUrl != "" && c.ContractAddress != ""
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr             string
	FrontendUrl      string
	CorsOrigins      []string
	ProductListLimit int
	ShutdownTimeout  time.Duration
}

// AuthConfig holds token and password hashing settings
type AuthConfig struct {
	JwtSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// ListenerConfig holds reconciliation defect listener settings
type ListenerConfig struct {
	PollingInterval time.Duration
	MaxAttempts     int
	BatchSize       int
	RetryBackoff    time.Duration
}

// RedisConfig holds the optional event publisher settings
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// SeedConfig holds setup tool settings
type SeedConfig struct {
	UsersFile string
}
