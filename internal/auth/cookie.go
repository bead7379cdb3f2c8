package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCookie = errors.New("invalid cookie")

// CookieSigner signs cookie values in the format "value|signature".
type CookieSigner struct {
	secret []byte
}

func NewCookieSigner(secret string) *CookieSigner {
	return &CookieSigner{secret: []byte(secret)}
}

func (s *CookieSigner) Sign(value string) string {
	return fmt.Sprintf("%s|%s",
		base64.URLEncoding.EncodeToString([]byte(value)),
		base64.URLEncoding.EncodeToString(s.mac(value)))
}

// Verify checks the signature and returns the original value.
func (s *CookieSigner) Verify(signed string) (string, error) {
	valueB64, sigB64, ok := strings.Cut(signed, "|")
	if !ok {
		return "", fmt.Errorf("%w: bad format", ErrInvalidCookie)
	}
	valueBytes, err := base64.URLEncoding.DecodeString(valueB64)
	if err != nil {
		return "", fmt.Errorf("%w: value encoding", ErrInvalidCookie)
	}
	signature, err := base64.URLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", fmt.Errorf("%w: signature encoding", ErrInvalidCookie)
	}
	value := string(valueBytes)
	if !hmac.Equal(signature, s.mac(value)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrInvalidCookie)
	}
	return value, nil
}

func (s *CookieSigner) mac(value string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}
