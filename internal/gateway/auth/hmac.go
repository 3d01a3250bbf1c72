package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// BuildHMACSignature computes the L2 request signature:
// base64url(HMAC-SHA256(secret, timestamp + METHOD + path + body)).
// secret 是 base64url 编码的密钥，与签发时返回给客户端的格式一致。
func BuildHMACSignature(secret string, timestamp int64, method string, requestPath string, body string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + strings.ToUpper(method) + requestPath + body

	keyData, err := base64.URLEncoding.DecodeString(padBase64(secret))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sig := mac.Sum(nil)

	return base64.URLEncoding.EncodeToString(sig), nil
}

// VerifyHMACSignature recomputes the request signature and compares in
// constant time.
func VerifyHMACSignature(secret string, timestamp int64, method string, requestPath string, body string, signature string) bool {
	expected, err := BuildHMACSignature(secret, timestamp, method, requestPath, body)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(padBase64(strings.TrimSpace(signature))))
}

// padBase64 restores stripped '=' padding so both padded and unpadded client
// encodings verify.
func padBase64(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}
