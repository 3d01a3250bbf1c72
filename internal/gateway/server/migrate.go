package server

import (
	"context"
	"fmt"
	"time"
)

func (s *Server) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  wallet_address TEXT NOT NULL UNIQUE,
  magic_user_id TEXT,
  username TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS api_credentials (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  wallet_address TEXT NOT NULL,
  funder_address TEXT,
  api_key TEXT NOT NULL UNIQUE,
  api_secret_enc TEXT NOT NULL,
  api_passphrase_enc TEXT NOT NULL,
  api_passphrase_digest TEXT NOT NULL,
  signature_type INTEGER NOT NULL DEFAULT 0,
  l1_nonce INTEGER NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE (user_id, l1_nonce)
);`,
		`
CREATE TABLE IF NOT EXISTS user_operations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  market_id TEXT,
  operation_type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  status TEXT NOT NULL,
  tx_signature TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_user_operations_user_time ON user_operations(user_id, created_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}
