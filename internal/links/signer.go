package links

import (
	"errors"
	"net/url"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues and validates download tokens for attachment URLs. Tokens
// bind to one storage key; they carry no expiry because the URL is stored in
// the ticket record.
type Signer struct {
	secret  []byte
	baseURL string
}

// NewSigner builds a signer. baseURL is prefixed to generated links and may be empty.
func NewSigner(secret, baseURL string) *Signer {
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

// Claims describes the download token payload.
type Claims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Sign returns a token for key.
func (s *Signer) Sign(key string) (string, error) {
	claims := &Claims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  key,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks that token was issued for key.
func (s *Signer) Verify(tokenStr, key string) error {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return errors.New("invalid token claims")
	}
	if claims.Key != key {
		return errors.New("token issued for a different file")
	}
	return nil
}

// URL returns the signed download link for key.
func (s *Signer) URL(key string) (string, error) {
	token, err := s.Sign(key)
	if err != nil {
		return "", err
	}
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/files/" + strings.Join(segments, "/") + "?token=" + url.QueryEscape(token), nil
}
