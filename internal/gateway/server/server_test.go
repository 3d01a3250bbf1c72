package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/catallaxyz/gateway/internal/gateway/auth"
	"github.com/catallaxyz/gateway/internal/gateway/ledger"
	"github.com/catallaxyz/gateway/internal/gateway/settlement"
	"github.com/catallaxyz/gateway/pkg/config"
)

type testWallet struct {
	address string
	priv    ed25519.PrivateKey
}

func newWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testWallet{address: base58.Encode(pub), priv: priv}
}

func newTestServer(t *testing.T, tweak func(*config.Config)) (*Server, http.Handler) {
	t.Helper()

	cfg := config.Default()
	cfg.AutoProvision = true
	cfg.KeyCreateBurst = 100
	cfg.KeyCreatePerSec = 100
	if tweak != nil {
		tweak(&cfg)
	}

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	led, err := ledger.Open(ledger.Options{InMemory: true})
	require.NoError(t, err)

	_, signerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := settlement.NewSigner(signerPriv)
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i)
	}

	srv, err := newForTest(cfg, db, led, signer, masterKey)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = led.Close()
		_ = db.Close()
	})
	return srv, srv.Router()
}

// bootstrap performs the L1 key issuance for the wallet and returns the
// decoded response.
func bootstrap(t *testing.T, router http.Handler, w testWallet, nonce int64) (int, apiKeyResponse) {
	t.Helper()
	ts := time.Now().Unix()
	sig := ed25519.Sign(w.priv, auth.CanonicalMessage(w.address, ts, nonce))

	body := fmt.Sprintf(`{"walletAddress":%q,"nonce":%d,"signatureType":0}`, w.address, nonce)
	req := httptest.NewRequest(http.MethodPost, "/api-key", strings.NewReader(body))
	req.Header.Set(auth.HeaderAddress, w.address)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(auth.HeaderSignature, base58.Encode(sig))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiKeyResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

// l2Request sends a session-authenticated request signed with the credential.
func l2Request(t *testing.T, router http.Handler, cred apiKeyResponse, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	ts := time.Now().Unix()
	sig, err := auth.BuildHMACSignature(cred.Secret, ts, method, path, body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(auth.HeaderAPIKey, cred.APIKey)
	req.Header.Set(auth.HeaderPassphrase, cred.Passphrase)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(auth.HeaderSignature, sig)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBootstrap_IssuesSecretExactlyOnce(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)

	code, first := bootstrap(t, router, w, 0)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, first.APIKey)
	require.NotEmpty(t, first.Secret)
	require.NotEmpty(t, first.Passphrase)

	// 同一 nonce 重放：同一个 key，不再返回 secret，passphrase 照常返回
	code, second := bootstrap(t, router, w, 0)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, first.APIKey, second.APIKey)
	require.Empty(t, second.Secret)
	require.Equal(t, first.Passphrase, second.Passphrase)
	require.NotEmpty(t, second.Message)

	// 新 nonce 是一份全新凭证
	code, third := bootstrap(t, router, w, 1)
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, first.APIKey, third.APIKey)
	require.NotEmpty(t, third.Secret)
}

func TestBootstrap_RejectsBadProof(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	other := newWallet(t)
	ts := time.Now().Unix()

	send := func(address, headerAddr, sig string, tsHeader int64) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"walletAddress":%q,"nonce":0,"signatureType":0}`, address)
		req := httptest.NewRequest(http.MethodPost, "/api-key", strings.NewReader(body))
		req.Header.Set(auth.HeaderAddress, headerAddr)
		req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(tsHeader, 10))
		req.Header.Set(auth.HeaderSignature, sig)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	goodSig := base58.Encode(ed25519.Sign(w.priv, auth.CanonicalMessage(w.address, ts, 0)))

	// 别人签的名
	badSig := base58.Encode(ed25519.Sign(other.priv, auth.CanonicalMessage(w.address, ts, 0)))
	rec := send(w.address, w.address, badSig, ts)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// header 地址与 body 不一致
	rec = send(w.address, other.address, goodSig, ts)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// 过期时间戳
	stale := ts - 3600
	staleSig := base58.Encode(ed25519.Sign(w.priv, auth.CanonicalMessage(w.address, stale, 0)))
	rec = send(w.address, w.address, staleSig, stale)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// 缺 header
	body := fmt.Sprintf(`{"walletAddress":%q,"nonce":0,"signatureType":0}`, w.address)
	req := httptest.NewRequest(http.MethodPost, "/api-key", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBootstrap_UnknownWalletWithoutAutoProvision(t *testing.T) {
	_, router := newTestServer(t, func(c *config.Config) { c.AutoProvision = false })
	w := newWallet(t)

	code, _ := bootstrap(t, router, w, 0)
	require.Equal(t, http.StatusNotFound, code)
}

func TestBootstrap_RateLimited(t *testing.T) {
	_, router := newTestServer(t, func(c *config.Config) {
		c.KeyCreateBurst = 1
		c.KeyCreatePerSec = 1
	})
	w := newWallet(t)

	code, _ := bootstrap(t, router, w, 0)
	require.Equal(t, http.StatusOK, code)
	code, _ = bootstrap(t, router, w, 1)
	require.Equal(t, http.StatusTooManyRequests, code)
}

func TestSession_VerifyAndFailures(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	rec := l2Request(t, router, cred, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verify struct {
		UserID        string `json:"userId"`
		WalletAddress string `json:"walletAddress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	require.Equal(t, w.address, verify.WalletAddress)
	require.NotEmpty(t, verify.UserID)

	// 错误的 passphrase
	bad := cred
	bad.Passphrase = "wrong"
	rec = l2Request(t, router, bad, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// 错误的 secret 签出的 HMAC
	bad = cred
	other, err := auth.NewSecret()
	require.NoError(t, err)
	bad.Secret = other
	rec = l2Request(t, router, bad, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// 未知 api key
	bad = cred
	bad.APIKey = "00000000-0000-0000-0000-000000000000"
	rec = l2Request(t, router, bad, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRotate_CutsOverImmediately(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	rec := l2Request(t, router, cred, http.MethodPost, "/api-key/rotate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated apiKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.Equal(t, cred.APIKey, rotated.APIKey)
	require.NotEmpty(t, rotated.Secret)
	require.NotEqual(t, cred.Secret, rotated.Secret)
	require.Equal(t, cred.Passphrase, rotated.Passphrase)

	// 旧 secret 立即失效
	rec = l2Request(t, router, cred, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// 新 secret 生效，passphrase 不变
	fresh := cred
	fresh.Secret = rotated.Secret
	rec = l2Request(t, router, fresh, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRevoke_KillsSession(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	rec := l2Request(t, router, cred, http.MethodDelete, "/api-key", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = l2Request(t, router, cred, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeposit_CreditAndReplay(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	body := `{"amount":"2500000","transactionSignature":"tx-sig-1"}`
	rec := l2Request(t, router, cred, http.MethodPost, "/balances/deposit", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status  string      `json:"status"`
		Balance balanceBody `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, OpStatusCompleted, resp.Status)
	require.Equal(t, "2500000", resp.Balance.USDCAvailable)

	// 重放同一链上签名：余额不变
	rec = l2Request(t, router, cred, http.MethodPost, "/balances/deposit", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, OpStatusDuplicate, resp.Status)
	require.Equal(t, "2500000", resp.Balance.USDCAvailable)

	// 余额端点口径一致
	rec = l2Request(t, router, cred, http.MethodGet, "/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balanceBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	require.Equal(t, "2500000", bal.USDCAvailable)
	require.Equal(t, "0", bal.USDCLocked)
}

func TestDeposit_NumericAmount(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	// amount 既接受数字也接受字符串
	body := `{"amount":1000000,"transactionSignature":"tx1"}`
	rec := l2Request(t, router, cred, http.MethodPost, "/balances/deposit", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status  string      `json:"status"`
		Balance balanceBody `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, OpStatusCompleted, resp.Status)
	require.Equal(t, "1000000", resp.Balance.USDCAvailable)

	rec = l2Request(t, router, cred, http.MethodPost, "/balances/deposit", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, OpStatusDuplicate, resp.Status)
	require.Equal(t, "1000000", resp.Balance.USDCAvailable)
}

func TestDeposit_Validation(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	rec := l2Request(t, router, cred, http.MethodPost, "/balances/deposit",
		`{"amount":"0","transactionSignature":"tx"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = l2Request(t, router, cred, http.MethodPost, "/balances/deposit",
		`{"amount":"100","transactionSignature":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithdraw_Gone(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	rec := l2Request(t, router, cred, http.MethodPost, "/balances/withdraw",
		`{"amount":"100"}`)
	require.Equal(t, http.StatusGone, rec.Code)
	require.Contains(t, rec.Body.String(), CodeWithdrawDeprecated)
}

func TestHistory_Pagination(t *testing.T) {
	_, router := newTestServer(t, nil)
	w := newWallet(t)
	_, cred := bootstrap(t, router, w, 0)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"amount":"1000","transactionSignature":"tx-%d"}`, i)
		rec := l2Request(t, router, cred, http.MethodPost, "/balances/deposit", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := l2Request(t, router, cred, http.MethodGet, "/balances/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Operations []UserOperation `json:"operations"`
		HasMore    bool            `json:"hasMore"`
		Limit      int             `json:"limit"`
		Offset     int             `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Operations, 2)
	require.True(t, page.HasMore)
	require.Equal(t, OpTypeDeposit, page.Operations[0].OperationType)
	require.Equal(t, "0.001000", page.Operations[0].AmountUSDC)

	rec = l2Request(t, router, cred, http.MethodGet, "/balances/history?limit=2&offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Operations, 1)
	require.False(t, page.HasMore)

	rec = l2Request(t, router, cred, http.MethodGet, "/balances/history?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettle_SignsValidFill(t *testing.T) {
	srv, router := newTestServer(t, nil)

	marketPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	maker := newWallet(t)
	taker := newWallet(t)

	body := fmt.Sprintf(`{
		"market":%q,"nonce":1,
		"fill":{"maker":%q,"taker":%q,"outcomeType":0,"side":0,"size":1000,"price":500000}
	}`, base58.Encode(marketPub), maker.address, taker.address)

	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Signature string `json:"signature"`
		Nonce     uint64 `json:"nonce"`
		Signer    string `json:"signer"`
		Message   string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, uint64(1), resp.Nonce)
	require.Equal(t, srv.signer.PublicKeyBase58(), resp.Signer)

	sig, err := base58.Decode(resp.Signature)
	require.NoError(t, err)
	msg, err := base58.Decode(resp.Message)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(srv.signer.PublicKey(), msg, sig))
}

func TestSettle_RejectsInvalidFillAndStaleNonce(t *testing.T) {
	_, router := newTestServer(t, nil)

	marketPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	maker := newWallet(t)
	taker := newWallet(t)

	send := func(nonce uint64, price uint64) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{
			"market":%q,"nonce":%d,
			"fill":{"maker":%q,"taker":%q,"outcomeType":0,"side":1,"size":500000,"price":%d}
		}`, base58.Encode(marketPub), nonce, maker.address, taker.address, price)
		req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := send(1, 1500000) // price above scale
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), CodeValidation)

	rec = send(5, 400000)
	require.Equal(t, http.StatusOK, rec.Code)

	// nonce 不递增
	rec = send(5, 400000)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "nonce")

	// 非法 market pubkey
	body := fmt.Sprintf(`{"market":"xx","nonce":9,"fill":{"maker":%q,"taker":%q,"outcomeType":0,"side":0,"size":1,"price":1}}`,
		maker.address, taker.address)
	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettle_BearerToken(t *testing.T) {
	_, router := newTestServer(t, func(c *config.Config) { c.SettlerToken = "s3cret" })

	marketPub, _, _ := ed25519.GenerateKey(rand.Reader)
	maker := newWallet(t)
	taker := newWallet(t)
	body := fmt.Sprintf(`{"market":%q,"nonce":1,"fill":{"maker":%q,"taker":%q,"outcomeType":1,"side":0,"size":1,"price":1}}`,
		base58.Encode(marketPub), maker.address, taker.address)

	req := httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/settle", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
