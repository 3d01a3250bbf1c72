package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/catallaxyz/gateway/pkg/logger"
)

// Config 网关配置。YAML 文件为基础，环境变量覆盖同名项。
type Config struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db_path"`
	LedgerDir string `yaml:"ledger_dir"`

	// L1/L2 auth
	ChainID          int64 `yaml:"chain_id"`           // EIP-712 ClobAuth domain chain id
	AuthMaxSkewSecs  int64 `yaml:"auth_max_skew_secs"` // timestamp freshness window
	AutoProvision    bool  `yaml:"auto_provision"`     // create user rows on first L1 (dev only)
	KeyCreateBurst   int   `yaml:"key_create_burst"`   // /api-key bucket capacity per address
	KeyCreatePerSec  int   `yaml:"key_create_per_sec"` // /api-key bucket refill per second

	// Deposit reconciliation
	SolanaRPCURL string `yaml:"solana_rpc_url"` // when set, deposits are verified on-chain

	// Settlement signer
	SettlerToken string `yaml:"settler_token"` // optional bearer token for /settle

	// Secrets
	SecretsDir string `yaml:"secrets_dir"` // optional encrypted secretstore path

	Logging logger.Config `yaml:"logging"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Listen:          ":8080",
		DBPath:          "data/gateway.db",
		LedgerDir:       "data/ledger",
		ChainID:         137,
		AuthMaxSkewSecs: 300,
		KeyCreateBurst:  5,
		KeyCreatePerSec: 1,
		Logging: logger.Config{
			Level: "info",
		},
	}
}

// Load reads the YAML file (optional) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt64 := func(dst *int64, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Listen, "CLOB_LISTEN")
	setStr(&c.DBPath, "CLOB_DB_PATH")
	setStr(&c.LedgerDir, "CLOB_LEDGER_DIR")
	setInt64(&c.ChainID, "CLOB_CHAIN_ID")
	setInt64(&c.AuthMaxSkewSecs, "CLOB_AUTH_MAX_SKEW_SECS")
	setInt(&c.KeyCreateBurst, "CLOB_KEY_CREATE_BURST")
	setInt(&c.KeyCreatePerSec, "CLOB_KEY_CREATE_PER_SEC")
	setStr(&c.SolanaRPCURL, "CLOB_SOLANA_RPC_URL")
	setStr(&c.SettlerToken, "CLOB_SETTLER_TOKEN")
	setStr(&c.SecretsDir, "CLOB_SECRETS_DIR")
	setStr(&c.Logging.Level, "CLOB_LOG_LEVEL")
	setStr(&c.Logging.OutputFile, "CLOB_LOG_FILE")

	if v := strings.TrimSpace(os.Getenv("CLOB_AUTO_PROVISION_USERS")); v != "" {
		c.AutoProvision = strings.EqualFold(v, "true") || v == "1"
	}
}
