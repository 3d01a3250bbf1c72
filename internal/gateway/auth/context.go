package auth

// Kind tags the two possible request identities. Consumers must switch on it
// instead of testing an address field for emptiness.
type Kind int

const (
	// KindAnonymous is a request with no resolved credential.
	KindAnonymous Kind = iota
	// KindWallet is a request resolved to a wallet-backed credential.
	KindWallet
)

// Context is the polymorphic auth identity attached to a request after the
// session guard runs.
type Context struct {
	Kind   Kind
	Wallet string // set only when Kind == KindWallet
}

// Anonymous returns the unauthenticated identity.
func Anonymous() Context {
	return Context{Kind: KindAnonymous}
}

// ForWallet returns a wallet-backed identity.
func ForWallet(address string) Context {
	return Context{Kind: KindWallet, Wallet: address}
}

// IsWallet reports whether the request resolved to a wallet identity.
func (c Context) IsWallet() bool {
	return c.Kind == KindWallet
}
