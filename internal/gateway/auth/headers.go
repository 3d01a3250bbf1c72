package auth

// Wire header names shared by L1 bootstrap and L2 session requests.
const (
	HeaderAddress    = "CLOB_ADDRESS"
	HeaderSignature  = "CLOB_SIGNATURE"
	HeaderTimestamp  = "CLOB_TIMESTAMP"
	HeaderAPIKey     = "CLOB_API_KEY"
	HeaderPassphrase = "CLOB_PASSPHRASE"
)
