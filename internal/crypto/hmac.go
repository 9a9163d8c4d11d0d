package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// HMACAuth holds the L2 API credentials issued by the CLOB's derive-api-key
// flow and signs subsequent authenticated requests.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// L2Headers returns the POLY_* headers required on an authenticated CLOB
// request: the signature covers timestamp, method, path, and body exactly
// as sent.
func (a *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	msg := ts + method + path + body

	secret, err := base64.URLEncoding.DecodeString(a.Secret)
	if err != nil {
		secret = []byte(a.Secret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    a.Key,
		"POLY_PASSPHRASE": a.Passphrase,
	}
}
