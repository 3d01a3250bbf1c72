package server

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

func (s *Server) getUserByWallet(ctx context.Context, walletAddress string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,wallet_address,magic_user_id,username,created_at,updated_at
FROM users WHERE wallet_address=?
`, walletAddress)
	var u User
	var created, updated string
	if err := row.Scan(&u.ID, &u.WalletAddress, &u.MagicUserID, &u.Username, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &u, nil
}

func (s *Server) getUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,wallet_address,magic_user_id,username,created_at,updated_at
FROM users WHERE id=?
`, id)
	var u User
	var created, updated string
	if err := row.Scan(&u.ID, &u.WalletAddress, &u.MagicUserID, &u.Username, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &u, nil
}

// insertUser provisions a user row. Normal deployments leave provisioning to
// the identity service; this is only reached behind the auto-provision flag
// and from tests.
func (s *Server) insertUser(ctx context.Context, walletAddress string) (*User, error) {
	now := time.Now()
	u := User{
		ID:            uuid.NewString(),
		WalletAddress: walletAddress,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id,wallet_address,created_at,updated_at) VALUES (?,?,?,?)
`, u.ID, u.WalletAddress, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &u, nil
}
