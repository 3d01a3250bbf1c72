package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/catallaxyz/gateway/internal/gateway/settlement"
	"github.com/catallaxyz/gateway/pkg/secretstore"
)

// Imports the settlement authority keypair into the encrypted secretstore so
// the gateway can run without CLOB_SETTLEMENT_KEY in its environment.
func main() {
	_ = godotenv.Load()

	var (
		keyPath   = flag.String("keypair", "", "path to the settlement keypair JSON file")
		dbPath    = flag.String("secrets", getenv("CLOB_SECRETS_DIR", "data/secrets.badger"), "badger secrets db path")
		masterKey = flag.String("master-key", getenv("CLOB_MASTER_KEY", ""), "store encryption key (32 bytes base64/hex)")
	)
	flag.Parse()

	if *keyPath == "" {
		fatal(fmt.Errorf("keypair file is required: pass -keypair"))
	}

	keyBytes, err := secretstore.ParseKey(*masterKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("master key is required: set CLOB_MASTER_KEY or pass -master-key"))
	}

	raw, err := os.ReadFile(*keyPath)
	if err != nil {
		fatal(err)
	}
	// 先验证格式再落库，避免把坏 key 写进 store
	if _, err := settlement.ParseKeypairJSON([]byte(strings.TrimSpace(string(raw)))); err != nil {
		fatal(err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if err := ss.SetString("settlement_key", strings.TrimSpace(string(raw))); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "settlement key 已导入：%s\n", *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
