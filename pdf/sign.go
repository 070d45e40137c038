package pdf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("pdf: bad link signature")
	ErrLinkExpired  = errors.New("pdf: link expired")
)

// Signer issues and checks expiring download links. The signature is
// HMAC-SHA256 over "path|expires".
type Signer struct {
	key     []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(key []byte, baseURL string, ttl time.Duration) *Signer {
	return &Signer{
		key:     key,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides time.Now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) mac(path string, expires int64) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(path + "|" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(m.Sum(nil))
}

// Sign returns a download URL for path and its expiry.
func (s *Signer) Sign(path string) (string, time.Time) {
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	exp := expiresAt.Unix()
	q := url.Values{}
	q.Set("path", path)
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("sig", s.mac(path, exp))
	return s.baseURL + "/pdf/download?" + q.Encode(), expiresAt
}

// Verify checks a link's query parameters.
func (s *Signer) Verify(path, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || path == "" {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(s.mac(path, exp)), []byte(sig)) {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrLinkExpired
	}
	return nil
}
