package server

import (
	"bytes"
	"context"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/catallaxyz/gateway/internal/gateway/auth"
	"github.com/catallaxyz/gateway/pkg/logger"
)

// gin context keys set by the session guard.
const (
	ctxKeyCredential = "gateway_credential"
	ctxKeyAuth       = "gateway_auth_context"
)

// requireSession is the L2 guard: it resolves the API key headers to a
// credential row and verifies the HMAC request signature before any handler
// runs. Everything fails closed with UNAUTHORIZED; no handler side effect can
// precede a successful resolution.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(auth.HeaderAPIKey))
		passphrase := strings.TrimSpace(c.GetHeader(auth.HeaderPassphrase))
		tsRaw := strings.TrimSpace(c.GetHeader(auth.HeaderTimestamp))
		sig := strings.TrimSpace(c.GetHeader(auth.HeaderSignature))
		if apiKey == "" || passphrase == "" || tsRaw == "" || sig == "" {
			writeError(c, 401, CodeUnauthorized, "missing auth headers")
			return
		}

		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil || !s.timestampFresh(ts) {
			writeError(c, 401, CodeUnauthorized, "invalid or stale timestamp")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		cred, lookupErr := s.getCredentialByAPIKey(ctx, apiKey)
		cancel()
		if lookupErr != nil {
			logger.WithField("err", lookupErr).Errorf("credential lookup failed")
			writeError(c, 500, CodeServerError, "credential lookup failed")
			return
		}
		if cred == nil {
			writeError(c, 401, CodeUnauthorized, "unknown api key")
			return
		}

		if !auth.CheckPassphrase(s.masterKey, passphrase, cred.PassphraseDigest) {
			writeError(c, 401, CodeUnauthorized, "bad credentials")
			return
		}

		// 校验 HMAC 需要读 body，读完要还原给后续 handler
		var body []byte
		if c.Request.Body != nil {
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				writeError(c, 400, CodeValidation, "unreadable request body")
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		secret, err := auth.DecryptSecret(s.masterKey, cred.APISecretEnc)
		if err != nil {
			logger.Errorf("credential secret decrypt failed for key id %s", cred.ID)
			writeError(c, 500, CodeServerError, "credential unavailable")
			return
		}
		requestPath := c.Request.URL.RequestURI()
		if !auth.VerifyHMACSignature(secret, ts, c.Request.Method, requestPath, string(body), sig) {
			writeError(c, 401, CodeUnauthorized, "bad signature")
			return
		}
		if addr := strings.TrimSpace(c.GetHeader(auth.HeaderAddress)); addr != "" &&
			!strings.EqualFold(addr, cred.WalletAddress) {
			writeError(c, 401, CodeUnauthorized, "address mismatch")
			return
		}

		c.Set(ctxKeyCredential, cred)
		c.Set(ctxKeyAuth, auth.ForWallet(cred.WalletAddress))
		c.Next()
	}
}

// timestampFresh bounds clock skew between client and server.
func (s *Server) timestampFresh(ts int64) bool {
	skew := s.cfg.AuthMaxSkewSecs
	if skew <= 0 {
		skew = 300
	}
	diff := time.Now().Unix() - ts
	return math.Abs(float64(diff)) <= float64(skew)
}

// sessionCredential returns the credential resolved by requireSession.
func sessionCredential(c *gin.Context) *Credential {
	v, ok := c.Get(ctxKeyCredential)
	if !ok {
		return nil
	}
	cred, _ := v.(*Credential)
	return cred
}

// sessionAuth returns the request's auth identity; anonymous when the guard
// did not run.
func sessionAuth(c *gin.Context) auth.Context {
	v, ok := c.Get(ctxKeyAuth)
	if !ok {
		return auth.Anonymous()
	}
	ac, ok := v.(auth.Context)
	if !ok {
		return auth.Anonymous()
	}
	return ac
}
