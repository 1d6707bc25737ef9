// Package flash carries one-shot status messages across a redirect in a
// signed cookie.
package flash

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Message categories
const (
	Success = "success"
	Error   = "error"
	Warning = "warning"
)

const (
	cookieName = "mailtrack_flash"
	issuer     = "mailtrack"
	ttl        = 5 * time.Minute
)

// Message is a single flash message
type Message struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

type claims struct {
	Messages []Message `json:"messages"`
	jwt.RegisteredClaims
}

// Store signs and verifies flash cookies with an HMAC secret
type Store struct {
	secret []byte
	now    func() time.Time
}

// NewStore creates a flash store keyed by secret
func NewStore(secret string) *Store {
	return &Store{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Add appends a message to the pending ones and writes the cookie
func (s *Store) Add(w http.ResponseWriter, r *http.Request, category, text string) error {
	messages := append(s.read(r), Message{Category: category, Text: text})

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Messages: messages,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign flash cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Pop returns the pending messages and clears the cookie.
// Missing, expired or tampered cookies yield no messages.
func (s *Store) Pop(w http.ResponseWriter, r *http.Request) []Message {
	if _, err := r.Cookie(cookieName); err != nil {
		return nil
	}

	messages := s.read(r)

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return messages
}

func (s *Store) read(r *http.Request) []Message {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	c, err := s.parse(cookie.Value)
	if err != nil {
		return nil
	}
	return c.Messages
}

func (s *Store) parse(value string) (*claims, error) {
	token, err := jwt.ParseWithClaims(value, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid flash token")
	}
	return c, nil
}
