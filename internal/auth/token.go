// Package auth isolates credential decoding behind a pure function so the
// ledger core never inspects token bytes. The current scheme is the
// site-issued base64 JSON blob; swapping in a signed scheme only touches this
// package.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

// MaxCredentialAge bounds how old a credential's issuance timestamp may be.
const MaxCredentialAge = 7 * 24 * time.Hour

var (
	ErrMalformed = errors.New("malformed credential")
	ErrExpired   = errors.New("credential expired")
)

// Identity is the decoded credential payload. Timestamp is issuance time in
// Unix milliseconds.
type Identity struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Timestamp   int64  `json:"timestamp"`
}

// Decode resolves a bearer credential to an identity. Tokens may arrive
// URL-encoded; both standard and raw base64 are accepted. A credential older
// than MaxCredentialAge is rejected.
func Decode(token string, now time.Time) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}
	if strings.Contains(token, "%") {
		if unescaped, err := url.QueryUnescape(token); err == nil {
			token = unescaped
		}
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(token)
		if err != nil {
			return nil, ErrMalformed
		}
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, ErrMalformed
	}
	if id.UserID == "" {
		return nil, ErrMalformed
	}
	if id.Timestamp > 0 {
		issued := time.UnixMilli(id.Timestamp)
		if now.Sub(issued) > MaxCredentialAge {
			return nil, ErrExpired
		}
	}
	return &id, nil
}

// Sign produces the credential for an identity, for the server-side sync
// path.
func Sign(id Identity) (string, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
