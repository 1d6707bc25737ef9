package mailer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// received is one message accepted by the test relay
type received struct {
	from string
	to   []string
	data []byte
	user string
	helo string
	tls  bool
}

// testRelay is an in-process relay built on go-smtp
type testRelay struct {
	mu         sync.Mutex
	messages   []received
	users      map[string]string
	rejectRcpt bool
	tlsConfig  *tls.Config // Enables STARTTLS
}

func (r *testRelay) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &relaySession{relay: r, conn: c}, nil
}

func (r *testRelay) Messages() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.messages...)
}

type relaySession struct {
	relay *testRelay
	conn  *smtp.Conn
	msg   received
}

func (s *relaySession) AuthMechanisms() []string {
	if s.relay.users == nil {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if want, ok := s.relay.users[username]; !ok || want != password {
			return smtp.ErrAuthFailed
		}
		s.msg.user = username
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if s.relay.users != nil && s.msg.user == "" {
		return smtp.ErrAuthRequired
	}
	s.msg.from = from
	s.msg.helo = s.conn.Hostname()
	_, s.msg.tls = s.conn.TLSConnectionState()
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.relay.rejectRcpt {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user",
		}
	}
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = data

	s.relay.mu.Lock()
	s.relay.messages = append(s.relay.messages, s.msg)
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {
	s.msg = received{user: s.msg.user}
}

func (s *relaySession) Logout() error {
	return nil
}

// startRelay serves relay on a loopback port and returns host and port
func startRelay(t *testing.T, relay *testRelay) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	srv := smtp.NewServer(relay)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.TLSConfig = relay.tlsConfig

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			t.Logf("relay stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		// Serve may not have registered l yet
		srv.Close()
		l.Close()
		<-done
	})

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// relayCertificate returns a self-signed loopback certificate and a pool
// that trusts it
func relayCertificate(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}
