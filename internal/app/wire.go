package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/podx/oracle/internal/cache/redis"
	"github.com/podx/oracle/internal/chain"
	"github.com/podx/oracle/internal/config"
	podxcrypto "github.com/podx/oracle/internal/crypto"
	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/eip712"
	"github.com/podx/oracle/internal/session"
	"github.com/podx/oracle/internal/settlement"
	"github.com/podx/oracle/internal/sigverify"
	"github.com/podx/oracle/internal/store/postgres"
	"github.com/podx/oracle/internal/token"
)

// Dependencies bundles every fully-wired dependency the HTTP server and the
// background session-expiry sweep need to operate. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Orders     domain.OrderStore
	Shipments  domain.ShipmentStore
	Sessions   domain.SessionStore
	MagicLinks domain.MagicLinkStore
	Proofs     domain.ProofStore
	Payments   domain.PaymentStore
	Products   domain.ProductStore
	TxBeginner domain.TxBeginner

	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	Gateway        *chain.Gateway
	Builder        *eip712.Builder
	Verifier       *sigverify.Verifier
	LinkIssuer     *token.MagicLinkIssuer // kept distinct from the MagicLinkStore above
	OpsAuth        *token.OpsAuthenticator
	Coordinator    *settlement.Coordinator
	SessionService *session.Service
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if err := pgClient.RunMigrations(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
	}

	pool := pgClient.Pool()
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Shipments = postgres.NewShipmentStore(pool)
	deps.Sessions = postgres.NewSessionStore(pool)
	deps.MagicLinks = postgres.NewMagicLinkStore(pool)
	deps.Proofs = postgres.NewProofStore(pool)
	deps.Payments = postgres.NewPaymentStore(pool)
	deps.Products = postgres.NewProductStore(pool)
	deps.TxBeginner = postgres.NewTxBeginner(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Chain ---
	ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: dialing rpc: %w", err)
	}
	closers = append(closers, ethClient.Close)

	keyHex, err := podxcrypto.LoadKey(podxcrypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.OraclePrivateKey,
		EncryptedKeyPath: cfg.Chain.OracleKeyEncryptedPath,
		KeyPassword:      cfg.Chain.OracleKeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: loading oracle key: %w", err)
	}
	signer, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: parsing oracle key: %w", err)
	}

	addrs := chain.Addresses{
		Token:            common.HexToAddress(cfg.Chain.TokenAddress),
		Escrow:           common.HexToAddress(cfg.Chain.EscrowAddress),
		OrderRegistry:    common.HexToAddress(cfg.Chain.OrderRegistryAddress),
		ShipmentRegistry: common.HexToAddress(cfg.Chain.ShipmentRegistryAddress),
	}

	gateway, err := chain.New(ctx, ethClient, signer, addrs)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain gateway: %w", err)
	}
	deps.Gateway = gateway

	// --- EIP-712 / signature verification ---
	deps.Builder = eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(cfg.Chain.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Chain.VerifyingContract),
	})
	deps.Verifier = sigverify.NewVerifier(gateway)

	// --- Tokens ---
	sessionSecret := []byte(strings.TrimPrefix(cfg.Session.SessionSecret, "0x"))
	deps.LinkIssuer = token.NewMagicLinkIssuer(sessionSecret)
	deps.OpsAuth = token.NewOpsAuthenticator(sessionSecret, "podx-oracle")

	// --- Domain services ---
	deps.Coordinator = settlement.NewCoordinator(settlement.Deps{
		Shipments:      deps.Shipments,
		Orders:         deps.Orders,
		TxBeginner:     deps.TxBeginner,
		Gateway:        deps.Gateway,
		RewardPerMeter: big.NewInt(cfg.Session.RewardPerMeter),
		Logger:         logger,
	})

	deps.SessionService = session.NewService(session.Deps{
		Sessions:       deps.Sessions,
		MagicLinks:     deps.MagicLinks,
		Shipments:      deps.Shipments,
		Orders:         deps.Orders,
		Locker:         deps.LockManager,
		Settler:        deps.Coordinator,
		Issuer:         deps.LinkIssuer,
		Builder:        deps.Builder,
		Verifier:       deps.Verifier,
		SessionTTL:     time.Duration(cfg.Session.SessionTTLMinutes) * time.Minute,
		DefaultRadiusM: cfg.Session.DefaultRadiusMeters,
		Logger:         logger,
	})

	return deps, cleanup, nil
}
