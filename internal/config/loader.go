package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PODX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PODX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "PODX_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.RPCURL, "PODX_CHAIN_RPC_URL")
	setStr(&cfg.Chain.VerifyingContract, "PODX_CHAIN_VERIFYING_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.TokenAddress, "PODX_CHAIN_TOKEN_ADDRESS")
	setStr(&cfg.Chain.EscrowAddress, "PODX_CHAIN_ESCROW_ADDRESS")
	setStr(&cfg.Chain.OrderRegistryAddress, "PODX_CHAIN_ORDER_REGISTRY_ADDRESS")
	setStr(&cfg.Chain.ShipmentRegistryAddress, "PODX_CHAIN_SHIPMENT_REGISTRY_ADDRESS")
	setStr(&cfg.Chain.OraclePrivateKey, "PODX_CHAIN_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Chain.OracleKeyEncryptedPath, "PODX_CHAIN_ORACLE_KEY_ENCRYPTED_PATH")
	setStr(&cfg.Chain.OracleKeyPassword, "PODX_CHAIN_ORACLE_KEY_PASSWORD")

	// ── Session ──
	setStr(&cfg.Session.SessionSecret, "PODX_SESSION_SECRET")
	setInt(&cfg.Session.SessionTTLMinutes, "PODX_SESSION_TTL_MINUTES")
	setInt64(&cfg.Session.DefaultRadiusMeters, "PODX_SESSION_DEFAULT_RADIUS_METERS")
	setInt64(&cfg.Session.RewardPerMeter, "PODX_SESSION_REWARD_PER_METER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PODX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PODX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PODX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PODX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PODX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PODX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PODX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PODX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PODX_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PODX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PODX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PODX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PODX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PODX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PODX_REDIS_TLS_ENABLED")

	// ── Server ──
	setInt(&cfg.Server.Port, "PODX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PODX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PODX_SERVER_API_KEY")
	setStr(&cfg.Server.LinkBaseURL, "PODX_SERVER_LINK_BASE_URL")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PODX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
