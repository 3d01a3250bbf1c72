package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Generates a fresh settlement authority keypair in the Solana CLI JSON
// format (array of 64 bytes, secret seed followed by public key), suitable
// for CLOB_SETTLEMENT_KEY or the secretstore.
func main() {
	var (
		outPath = flag.String("o", "", "write keypair JSON to this file instead of stdout")
	)
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate keypair failed: %v", err)
	}

	parts := make([]string, len(priv))
	for i, b := range priv {
		parts[i] = fmt.Sprintf("%d", b)
	}
	keyJSON := "[" + strings.Join(parts, ",") + "]"

	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(keyJSON), 0o600); err != nil {
			log.Fatalf("write keypair failed: %v", err)
		}
		fmt.Printf("keypair written to %s\n", *outPath)
	} else {
		fmt.Println(keyJSON)
	}
	fmt.Printf("public key: %s\n", base58.Encode(pub))
}
