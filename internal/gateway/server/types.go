package server

import "time"

// User is provisioned by the surrounding identity system; the gateway only
// reads it to anchor credentials and ledger rows.
type User struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	MagicUserID   *string   `json:"magic_user_id,omitempty"`
	Username      *string   `json:"username,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Credential is the stored API credential row. Secret and passphrase are held
// AES-GCM encrypted (the passphrase is re-revealed on repeat bootstrap and
// rotation); session checks compare against the keyed digest so the plaintext
// passphrase is only decrypted on those two response paths.
type Credential struct {
	ID               string
	UserID           string
	WalletAddress    string
	FunderAddress    *string
	APIKey           string
	APISecretEnc     string
	PassphraseEnc    string
	PassphraseDigest string
	SignatureType    int
	L1Nonce          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Operation types and statuses recorded in user_operations.
const (
	OpTypeDeposit  = "deposit"
	OpTypeWithdraw = "withdraw"

	OpStatusCompleted = "completed"
	OpStatusDuplicate = "duplicate"
)

// UserOperation is one row of the deposit/withdraw history.
type UserOperation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	MarketID      *string   `json:"marketId,omitempty"`
	OperationType string    `json:"operationType"`
	Amount        int64     `json:"amount,string"`
	AmountUSDC    string    `json:"amountUsdc"`
	Status        string    `json:"status"`
	TxSignature   string    `json:"transactionSignature"`
	CreatedAt     time.Time `json:"createdAt"`
}
