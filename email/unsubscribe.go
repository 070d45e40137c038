package email

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Unsubscriber signs and checks one-click unsubscribe links. Tokens do not
// expire.
type Unsubscriber struct {
	key     []byte
	baseURL string
}

func NewUnsubscriber(key []byte, baseURL string) *Unsubscriber {
	return &Unsubscriber{key: key, baseURL: strings.TrimRight(baseURL, "/")}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Token returns the token for email.
func (u *Unsubscriber) Token(email string) string {
	m := hmac.New(sha256.New, u.key)
	m.Write([]byte("unsubscribe|" + normalize(email)))
	return hex.EncodeToString(m.Sum(nil))
}

// URL returns the unsubscribe link for email.
func (u *Unsubscriber) URL(email string) string {
	q := url.Values{}
	q.Set("email", normalize(email))
	q.Set("token", u.Token(email))
	return u.baseURL + "/email/unsubscribe?" + q.Encode()
}

// Valid reports whether token belongs to email.
func (u *Unsubscriber) Valid(email, token string) bool {
	if len(u.key) == 0 || email == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(u.Token(email)), []byte(token))
}
