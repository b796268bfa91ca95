// Package config defines the top-level configuration for the oracle
// service and provides validation helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PODX_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Session  SessionConfig  `toml:"session"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint, deployed contract addresses, and the
// oracle's signing key.
type ChainConfig struct {
	ChainID                 int64  `toml:"chain_id"`
	RPCURL                  string `toml:"rpc_url"`
	VerifyingContract       string `toml:"verifying_contract_address"`
	TokenAddress            string `toml:"token_address"`
	EscrowAddress           string `toml:"escrow_address"`
	OrderRegistryAddress    string `toml:"order_registry_address"`
	ShipmentRegistryAddress string `toml:"shipment_registry_address"`

	// OraclePrivateKey is the oracle signer's raw hex-encoded key. Prefer
	// OracleKeyEncryptedPath for anything beyond local development; when
	// both are set OraclePrivateKey takes precedence (internal/crypto.LoadKey).
	OraclePrivateKey string `toml:"oracle_private_key"`

	// OracleKeyEncryptedPath/OracleKeyPassword locate an AES-256-GCM
	// encrypted key file produced by internal/crypto.EncryptKey.
	OracleKeyEncryptedPath string `toml:"oracle_key_encrypted_path"`
	OracleKeyPassword      string `toml:"oracle_key_password"`
}

// SessionConfig holds the signing-session state machine's tunables.
type SessionConfig struct {
	SessionSecret       string `toml:"session_secret"`
	SessionTTLMinutes   int    `toml:"session_ttl_minutes"`
	DefaultRadiusMeters int64  `toml:"default_radius_meters"`
	RewardPerMeter      int64  `toml:"reward_per_meter"`
}

// PostgresConfig holds PostgreSQL connection parameters, named and shaped
// like the teacher's SupabaseConfig.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters, used for the per-session
// distributed lock and the signing-session creation rate limiter.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey is loaded and redacted like the other secrets, but no component
	// reads it: the operator-only reconciliation endpoint
	// (internal/server/middleware/opsauth.go) verifies JWTs signed with the
	// session secret, and the end-user magic-link flow never uses it.
	APIKey string `toml:"api_key"`
	// LinkBaseURL prefixes a minted magic-link token to produce the URL
	// handed to the counterparty, e.g. "https://oracle.example.com/signing-sessions".
	LinkBaseURL string `toml:"link_base_url"`
}

// Defaults returns a Config populated with every option that spec.md gives
// a default for. Options with no listed default are left zero-valued and
// must come from the TOML file or environment.
func Defaults() Config {
	return Config{
		Session: SessionConfig{
			SessionTTLMinutes:   10,
			DefaultRadiusMeters: 2000,
			RewardPerMeter:      10,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			LinkBaseURL: "http://localhost:8000/signing-sessions",
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config against every recognised option in spec.md §6 and
// returns a combined error describing every problem found, not just the
// first — a CONFIG-class error is fatal at startup.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	errs = appendAddressErr(errs, "chain.verifying_contract_address", c.Chain.VerifyingContract)
	errs = appendAddressErr(errs, "chain.token_address", c.Chain.TokenAddress)
	errs = appendAddressErr(errs, "chain.escrow_address", c.Chain.EscrowAddress)
	errs = appendAddressErr(errs, "chain.order_registry_address", c.Chain.OrderRegistryAddress)
	errs = appendAddressErr(errs, "chain.shipment_registry_address", c.Chain.ShipmentRegistryAddress)
	if c.Chain.OraclePrivateKey == "" && c.Chain.OracleKeyEncryptedPath == "" {
		errs = append(errs, "chain: one of oracle_private_key or oracle_key_encrypted_path must be set")
	}
	if c.Chain.OracleKeyEncryptedPath != "" && c.Chain.OraclePrivateKey == "" && c.Chain.OracleKeyPassword == "" {
		errs = append(errs, "chain: oracle_key_password is required when oracle_key_encrypted_path is set")
	}

	if len(strings.TrimPrefix(c.Session.SessionSecret, "0x")) < 32 {
		errs = append(errs, "session: session_secret must be at least 32 bytes")
	}
	if c.Session.SessionTTLMinutes <= 0 {
		errs = append(errs, "session: session_ttl_minutes must be > 0")
	}
	if c.Session.DefaultRadiusMeters <= 0 {
		errs = append(errs, "session: default_radius_meters must be > 0")
	}
	if c.Session.RewardPerMeter < 0 {
		errs = append(errs, "session: reward_per_meter must be >= 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.LinkBaseURL == "" {
		errs = append(errs, "server: link_base_url must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func appendAddressErr(errs []string, field, addr string) []string {
	trimmed := strings.TrimPrefix(addr, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 20 {
		return append(errs, fmt.Sprintf("%s: must be a 20-byte hex address, got %q", field, addr))
	}
	return errs
}
