package server

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func scanCredential(row *sql.Row) (*Credential, error) {
	var c Credential
	var created, updated string
	err := row.Scan(&c.ID, &c.UserID, &c.WalletAddress, &c.FunderAddress, &c.APIKey,
		&c.APISecretEnc, &c.PassphraseEnc, &c.PassphraseDigest, &c.SignatureType,
		&c.L1Nonce, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &c, nil
}

const credentialCols = `id,user_id,wallet_address,funder_address,api_key,api_secret_enc,api_passphrase_enc,api_passphrase_digest,signature_type,l1_nonce,created_at,updated_at`

func (s *Server) getCredentialByUserNonce(ctx context.Context, userID string, nonce int64) (*Credential, error) {
	return scanCredential(s.db.QueryRowContext(ctx, `
SELECT `+credentialCols+` FROM api_credentials WHERE user_id=? AND l1_nonce=?
`, userID, nonce))
}

func (s *Server) getCredentialByAPIKey(ctx context.Context, apiKey string) (*Credential, error) {
	return scanCredential(s.db.QueryRowContext(ctx, `
SELECT `+credentialCols+` FROM api_credentials WHERE api_key=?
`, apiKey))
}

func (s *Server) insertCredential(ctx context.Context, c Credential) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO api_credentials (`+credentialCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, c.ID, c.UserID, c.WalletAddress, c.FunderAddress, c.APIKey, c.APISecretEnc,
		c.PassphraseEnc, c.PassphraseDigest, c.SignatureType, c.L1Nonce,
		c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// updateCredentialSecret swaps in the new encrypted secret. The update is the
// rotation cutover: requests signed with the old secret fail as soon as this
// commits.
func (s *Server) updateCredentialSecret(ctx context.Context, id string, secretEnc string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE api_credentials SET api_secret_enc=?, updated_at=? WHERE id=?
`, secretEnc, time.Now().Format(time.RFC3339Nano), id)
	return err
}

func (s *Server) deleteCredential(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_credentials WHERE id=?`, id)
	return err
}
