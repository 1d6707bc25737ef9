// Package dkim holds the key material for the sender domain and adds
// DKIM-Signature headers to rendered messages.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"fmt"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the headers mailer.Render writes
var signedHeaders = []string{
	"From", "To", "Subject", "Date", "Message-ID",
	"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
}

// Signer signs with one key under one domain and selector. It is safe for
// concurrent use.
type Signer struct {
	opts dkim.SignOptions
}

func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{opts: dkim.SignOptions{
		Domain:                 domain,
		Selector:               selector,
		Signer:                 key,
		Hash:                   crypto.SHA256,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}}
}

// NewSignerFromFile reads the private key at keyFile
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns the message with its DKIM-Signature header first
func (s *Signer) Sign(message []byte) ([]byte, error) {
	opts := s.opts
	var out bytes.Buffer
	out.Grow(len(message) + 512)
	if err := dkim.Sign(&out, bytes.NewReader(message), &opts); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return out.Bytes(), nil
}

func (s *Signer) Domain() string   { return s.opts.Domain }
func (s *Signer) Selector() string { return s.opts.Selector }
