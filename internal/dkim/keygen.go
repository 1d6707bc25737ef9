package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyBits is the RSA size used by `mailtrack dkim keygen`
const KeyBits = 2048

// maxTXTString is the DNS limit for one character-string in a TXT record
const maxTXTString = 255

// KeyPair is a sender domain key and the selector it is published under
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	Domain     string
	Selector   string
}

func GenerateKey(domain, selector string) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{PrivateKey: key, Domain: domain, Selector: selector}, nil
}

// SavePrivateKey writes a PKCS1 PEM file with mode 0600, creating parent
// directories
func (kp *KeyPair) SavePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// DNSName is the owner name of the TXT record
func (kp *KeyPair) DNSName() string {
	return kp.Selector + "._domainkey." + kp.Domain
}

// DNSRecord is the TXT record value. It is empty if the public key cannot
// be encoded.
func (kp *KeyPair) DNSRecord() string {
	der, err := x509.MarshalPKIXPublicKey(&kp.PrivateKey.PublicKey)
	if err != nil {
		return ""
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der)
}

// ZoneLine is the record in zone file syntax, the value split into quoted
// strings of at most 255 characters
func (kp *KeyPair) ZoneLine() string {
	value := kp.DNSRecord()
	var quoted []string
	for len(value) > maxTXTString {
		quoted = append(quoted, `"`+value[:maxTXTString]+`"`)
		value = value[maxTXTString:]
	}
	quoted = append(quoted, `"`+value+`"`)
	return fmt.Sprintf("%s. IN TXT ( %s )", kp.DNSName(), strings.Join(quoted, " "))
}

// LoadPrivateKey reads an RSA key in PKCS1 or PKCS8 PEM form
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return parsePrivateKey(data)
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS8 key is %T, not RSA", key)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
