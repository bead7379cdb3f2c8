package auth

import (
	"errors"
	"net/http"
	"strings"
)

const CookieName = "user_id"

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity resolves the caller of a request from a bearer token or, failing
// that, the signed session cookie.
type Identity struct {
	Tokens  *TokenIssuer
	Cookies *CookieSigner
}

func (id *Identity) UserID(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, raw, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", ErrUnauthenticated
		}
		return id.Tokens.Parse(strings.TrimSpace(raw))
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrUnauthenticated
	}
	userID, err := id.Cookies.Verify(c.Value)
	if err != nil || userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// SessionCookie builds the signed cookie set at login.
func (id *Identity) SessionCookie(userID string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    id.Cookies.Sign(userID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
