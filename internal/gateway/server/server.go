package server

import (
	"database/sql"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/catallaxyz/gateway/internal/gateway/auth"
	"github.com/catallaxyz/gateway/internal/gateway/ledger"
	"github.com/catallaxyz/gateway/internal/gateway/settlement"
	"github.com/catallaxyz/gateway/pkg/config"
	"github.com/catallaxyz/gateway/pkg/logger"
	"github.com/catallaxyz/gateway/pkg/ratelimit"
	"github.com/catallaxyz/gateway/pkg/secretstore"
	"github.com/catallaxyz/gateway/pkg/solana"
)

// Server wires the credential store, balance ledger and settlement signer
// behind one HTTP surface.
type Server struct {
	cfg config.Config

	db        *sql.DB
	ledger    *ledger.Store
	signer    *settlement.Signer
	secrets   *secretstore.Store
	rpc       *solana.RPCClient
	keyLimit  *ratelimit.PerKeyLimiter
	masterKey []byte
}

// New opens the backing stores and loads key material. A missing or malformed
// settlement key or master key is fatal here; the server must not come up in a
// state where it could sign with partial key material.
func New(cfg config.Config) (*Server, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if strings.TrimSpace(cfg.LedgerDir) == "" {
		return nil, errors.New("ledger dir is required")
	}

	masterKey, err := loadMasterKeyFromEnv()
	if err != nil {
		return nil, err
	}

	var secrets *secretstore.Store
	if strings.TrimSpace(cfg.SecretsDir) != "" {
		secrets, err = secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.SecretsDir,
			EncryptionKey: masterKey,
		})
		if err != nil {
			return nil, errors.Wrap(err, "open secretstore")
		}
	}

	signer, err := loadSettlementSigner(secrets)
	if err != nil {
		if secrets != nil {
			_ = secrets.Close()
		}
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir db dir")
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	led, err := ledger.Open(ledger.Options{Dir: cfg.LedgerDir})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		ledger:    led,
		signer:    signer,
		secrets:   secrets,
		keyLimit:  ratelimit.NewPerKeyLimiter(cfg.KeyCreateBurst, cfg.KeyCreatePerSec),
		masterKey: masterKey,
	}
	if strings.TrimSpace(cfg.SolanaRPCURL) != "" {
		s.rpc = solana.NewRPCClient(cfg.SolanaRPCURL)
	}

	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.WithField("signer", signer.PublicKeyBase58()).Infof("settlement signer loaded")
	return s, nil
}

// newForTest builds a server over injected stores, skipping env key loading.
func newForTest(cfg config.Config, db *sql.DB, led *ledger.Store, signer *settlement.Signer, masterKey []byte) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		db:        db,
		ledger:    led,
		signer:    signer,
		keyLimit:  ratelimit.NewPerKeyLimiter(cfg.KeyCreateBurst, cfg.KeyCreatePerSec),
		masterKey: masterKey,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases all backing stores.
func (s *Server) Close() error {
	var first error
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.secrets != nil {
		if err := s.secrets.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	// L1 bootstrap
	r.POST("/api-key", s.handleCreateAPIKey)

	// L2 session surface
	l2 := r.Group("/", s.requireSession())
	l2.DELETE("/api-key", s.handleRevokeAPIKey)
	l2.POST("/api-key/rotate", s.handleRotateAPIKey)
	l2.GET("/verify", s.handleVerifySession)
	l2.GET("/balances", s.handleBalanceRead)
	l2.POST("/balances/deposit", s.handleDeposit)
	l2.POST("/balances/withdraw", s.handleWithdraw)
	l2.GET("/balances/history", s.handleBalanceHistory)

	// service-to-service
	r.POST("/settle", s.handleSettle)

	return r
}

func loadMasterKeyFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv("CLOB_MASTER_KEY"))
	if raw == "" {
		return nil, errors.New("CLOB_MASTER_KEY is required (32 bytes, base64 or hex)")
	}
	return auth.LoadMasterKey(raw)
}

// loadSettlementSigner reads the settlement authority keypair: env
// CLOB_SETTLEMENT_KEY first (JSON byte array or a path to one), then the
// secretstore under "settlement_key". Missing material is fatal.
func loadSettlementSigner(secrets *secretstore.Store) (*settlement.Signer, error) {
	raw := strings.TrimSpace(os.Getenv("CLOB_SETTLEMENT_KEY"))
	if raw == "" && secrets != nil {
		if v, ok, err := secrets.GetString("settlement_key"); err == nil && ok {
			raw = strings.TrimSpace(v)
		}
	}
	if raw == "" {
		return nil, errors.New("settlement key is required (CLOB_SETTLEMENT_KEY or secretstore settlement_key)")
	}
	if !strings.HasPrefix(raw, "[") {
		// treat as a file path to the JSON keypair
		b, err := os.ReadFile(raw)
		if err != nil {
			return nil, errors.Wrap(err, "read settlement key file")
		}
		raw = strings.TrimSpace(string(b))
	}
	keypair, err := settlement.ParseKeypairJSON([]byte(raw))
	if err != nil {
		return nil, err
	}
	return settlement.NewSigner(keypair)
}
