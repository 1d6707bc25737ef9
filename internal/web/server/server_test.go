package server

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/mailtrack/internal/config"
	"github.com/foxzi/mailtrack/internal/logstore"
	"github.com/foxzi/mailtrack/internal/mailer"
	"github.com/foxzi/mailtrack/internal/tracking"
)

const testID = "0b9a3c6e-5d1f-4c2a-9e7b-2f8d4a6c1e30"

type fakeSender struct {
	mu   sync.Mutex
	sent []*mailer.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) Driver() string {
	return "fake"
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixedIssuer tracking.ID

func (i fixedIssuer) Issue() tracking.ID {
	return tracking.ID(i)
}

type testEnv struct {
	server *Server
	store  *logstore.Store
	sender *fakeSender
	dir    string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Tracking.BaseURL = "https://track.example.com"
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "sender@example.com"
	cfg.Storage.LogsDir = dir
	return cfg
}

func newTestEnv(t *testing.T, modify func(*config.Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := testConfig(dir)
	if modify != nil {
		modify(cfg)
	}

	store := logstore.NewStore(cfg.Storage.LogsDir)
	sender := &fakeSender{}

	// The store records synchronously, which keeps assertions deterministic
	srv, err := New(cfg, Deps{
		Composer: tracking.NewComposer(cfg.Tracking.BaseURL, nil),
		Issuer:   fixedIssuer(testID),
		Sender:   sender,
		Store:    store,
		Recorder: store,
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{server: srv, store: store, sender: sender, dir: cfg.Storage.LogsDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) readLog(t *testing.T, file string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, file))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to read %s: %v", file, err)
	}
	return string(data)
}

func postSend(recipient, subject, content string) *http.Request {
	form := url.Values{}
	form.Set("recipient", recipient)
	form.Set("subject", subject)
	form.Set("content", content)
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// followFlash renders /send with the cookies set by rec and returns the body
func (e *testEnv) followFlash(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/send", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	res := e.do(req)
	if res.Code != http.StatusOK {
		t.Fatalf("GET /send status = %d, want 200", res.Code)
	}
	return res.Body.String()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), `href="/send"`) {
		t.Error("landing page should link to the compose form")
	}
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/css/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestSendSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(postSend("a@example.com", "Hi", "<p>hello</p>"))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/send" {
		t.Errorf("Location = %q, want /send", loc)
	}

	if env.sender.calls() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", env.sender.calls())
	}
	msg := env.sender.sent[0]
	if msg.To != "a@example.com" || msg.Subject != "Hi" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.HTML, "<p>hello</p>") {
		t.Error("message body should contain the submitted content")
	}
	if !strings.Contains(msg.HTML, "https://track.example.com/track/"+testID+"?") {
		t.Error("message body should contain the tracking pixel")
	}

	sent := env.readLog(t, "emails_sent.txt")
	pattern := regexp.MustCompile(`^Email enviado a: a@example\.com \| ID: ` + testID + ` \| Fecha: \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\n$`)
	if !pattern.MatchString(sent) {
		t.Errorf("emails_sent.txt = %q", sent)
	}

	body := env.followFlash(t, rec)
	if !strings.Contains(body, "Correo enviado exitosamente con ID de rastreo: "+testID) {
		t.Error("success flash not rendered")
	}
}

func TestSendKeepsContentAsTyped(t *testing.T) {
	env := newTestEnv(t, nil)

	content := "\n  <pre>  indented</pre>\n"
	env.do(postSend("  a@example.com ", " Hi ", content))

	if env.sender.calls() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", env.sender.calls())
	}
	msg := env.sender.sent[0]
	if msg.To != "a@example.com" {
		t.Errorf("To = %q, want trimmed address", msg.To)
	}
	if msg.Subject != " Hi " {
		t.Errorf("Subject = %q, want it unchanged", msg.Subject)
	}
	if !strings.Contains(msg.HTML, content) {
		t.Errorf("HTML = %q, want the untrimmed content", msg.HTML)
	}
}

func TestSendRequiresAllFields(t *testing.T) {
	tests := []struct {
		name                        string
		recipient, subject, content string
	}{
		{"missing recipient", "", "Hi", "<p>x</p>"},
		{"missing subject", "a@example.com", "", "<p>x</p>"},
		{"missing content", "a@example.com", "Hi", ""},
		{"whitespace only", "a@example.com", "   ", "<p>x</p>"},
		{"all empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(postSend(tt.recipient, tt.subject, tt.content))
			if rec.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", rec.Code)
			}
			if env.sender.calls() != 0 {
				t.Errorf("dispatch calls = %d, want 0", env.sender.calls())
			}
			if sent := env.readLog(t, "emails_sent.txt"); sent != "" {
				t.Errorf("emails_sent.txt = %q, want no lines", sent)
			}

			body := env.followFlash(t, rec)
			if !strings.Contains(body, "Todos los campos son obligatorios") {
				t.Error("required-fields flash not rendered")
			}
		})
	}
}

func TestSendDispatchFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sender.err = &mailer.DispatchError{Temporary: true, Message: "connection refused"}

	rec := env.do(postSend("a@example.com", "Hi", "<p>hello</p>"))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if sent := env.readLog(t, "emails_sent.txt"); sent != "" {
		t.Errorf("emails_sent.txt = %q, want no lines after a failed dispatch", sent)
	}

	body := env.followFlash(t, rec)
	if !strings.Contains(body, "Error al enviar correo: connection refused") {
		t.Errorf("dispatch error flash not rendered")
	}
}

func TestSendLogFailureAfterDispatch(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, func(c *config.Config) {
		c.Storage.LogsDir = filepath.Join(blocker, "logs")
	})

	rec := env.do(postSend("a@example.com", "Hi", "<p>hello</p>"))
	if env.sender.calls() != 1 {
		t.Fatalf("dispatch calls = %d, want 1", env.sender.calls())
	}

	body := env.followFlash(t, rec)
	if !strings.Contains(body, "Correo enviado con ID de rastreo: "+testID+", pero no se pudo registrar el envío") {
		t.Error("log failure warning not rendered")
	}
	if strings.Contains(body, "exitosamente") {
		t.Error("success flash should not be shown when the send was not recorded")
	}
}

func TestTrackPixel(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/track/abc-123", nil)
	req.Header.Set("User-Agent", "TestMail/1.0")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	wantHeaders := map[string]string{
		"Content-Type":        "image/png",
		"Content-Disposition": `inline; filename="pixel.png"`,
		"Cache-Control":       "no-cache, no-store, must-revalidate",
		"Pragma":              "no-cache",
		"Expires":             "0",
	}
	for k, v := range wantHeaders {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("body is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1 || b.Dy() != 1 {
		t.Errorf("pixel size = %dx%d, want 1x1", b.Dx(), b.Dy())
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("pixel alpha = %d, want transparent", a)
	}

	line := env.readLog(t, "email_logs.txt")
	if !strings.HasPrefix(line, "PIXEL | ID: abc-123 | Fecha: ") {
		t.Errorf("email_logs.txt = %q", line)
	}
	if !strings.Contains(line, "| IP: 192.0.2.1 | Navegador: TestMail/1.0 | Referer: Unknown\n") {
		t.Errorf("email_logs.txt = %q, want client info", line)
	}
}

func TestTrackingEventsStayOnOneLine(t *testing.T) {
	tests := []struct {
		name string
		path string
		log  string
	}{
		{"pixel", "/track/abc%0AENLACE%20%7C%20ID:%20forged", "email_logs.txt"},
		{"link", "/link/abc%0D%0APIXEL%20%7C%20ID:%20forged?redirect=https://example.org", "email_links_logs.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("User-Agent", "Evil\nPIXEL | ID: forged")
			env.do(req)

			content := env.readLog(t, tt.log)
			if n := strings.Count(content, "\n"); n != 1 {
				t.Errorf("%s has %d lines, want 1: %q", tt.log, n, content)
			}
			if !strings.Contains(content, `ID: abc\`) {
				t.Errorf("%s = %q, want escaped id", tt.log, content)
			}
		})
	}
}

func TestTrackUsesForwardedFor(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/track/abc-123", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	env.do(req)

	line := env.readLog(t, "email_logs.txt")
	if !strings.Contains(line, "| IP: 203.0.113.7, 10.0.0.1 |") {
		t.Errorf("email_logs.txt = %q, want the raw X-Forwarded-For value", line)
	}
	if !strings.Contains(line, "Navegador: Unknown") {
		t.Errorf("email_logs.txt = %q, want Unknown user agent", line)
	}
}

func TestTrackStillServesPixelWhenLoggingFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, func(c *config.Config) {
		c.Storage.LogsDir = filepath.Join(blocker, "logs")
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/track/abc-123", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("status = %d, Content-Type = %q, want the pixel", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/link/abc-123?redirect=https://example.org", nil))
	if rec.Code != http.StatusFound {
		t.Errorf("link status = %d, want 302", rec.Code)
	}
}

func TestLinkRedirect(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantLoc  string
		wantLine string
	}{
		{"explicit redirect", "/link/abc-123?redirect=https://example.org", "https://example.org", "ENLACE | ID: abc-123 | "},
		{"missing redirect", "/link/abc-123", "https://www.google.com", "ENLACE | ID: abc-123 | "},
		{"empty redirect", "/link/abc-123?redirect=", "https://www.google.com", "ENLACE | ID: abc-123 | "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != tt.wantLoc {
				t.Errorf("Location = %q, want %q", loc, tt.wantLoc)
			}
			if line := env.readLog(t, "email_links_logs.txt"); !strings.HasPrefix(line, tt.wantLine) {
				t.Errorf("email_links_logs.txt = %q", line)
			}
		})
	}
}

func TestComposeTrackRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(postSend("a@example.com", "Hi", "<p>hello</p>"))

	body := env.sender.sent[0].HTML
	match := regexp.MustCompile(`src='https://track\.example\.com(/track/[^']+)'`).FindStringSubmatch(body)
	if match == nil {
		t.Fatalf("no pixel URL in %q", body)
	}

	pixelPath := strings.ReplaceAll(match[1], "&amp;", "&")
	rec := env.do(httptest.NewRequest(http.MethodGet, pixelPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d", pixelPath, rec.Code)
	}

	if line := env.readLog(t, "email_logs.txt"); !strings.Contains(line, "ID: "+testID+" |") {
		t.Errorf("email_logs.txt = %q, want the issued ID", line)
	}
}

func TestLogsPage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for _, placeholder := range []string{
		"No hay registros de apertura disponibles",
		"No hay registros de clics en enlaces disponibles",
		"No hay registros de envío disponibles",
	} {
		if !strings.Contains(rec.Body.String(), placeholder) {
			t.Errorf("logs page missing placeholder %q", placeholder)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/track/abc-123", nil)
	req.Header.Set("User-Agent", "<script>alert(1)</script>")
	env.do(req)

	body := env.do(httptest.NewRequest(http.MethodGet, "/logs", nil)).Body.String()
	if !strings.Contains(body, "PIXEL | ID: abc-123") {
		t.Error("logs page should show the open")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("log content must be escaped")
	}
}

func TestLogsAdminGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		admin      config.AdminConfig
		password   string
		remote     string
		forwarded  string
		wantStatus int
	}{
		{"no credentials", config.AdminConfig{Password: "s3cret", ProtectLogs: true}, "", "192.0.2.1:1234", "", http.StatusUnauthorized},
		{"wrong password", config.AdminConfig{Password: "s3cret", ProtectLogs: true}, "nope", "192.0.2.1:1234", "", http.StatusUnauthorized},
		{"plain password", config.AdminConfig{Password: "s3cret", ProtectLogs: true}, "s3cret", "192.0.2.1:1234", "", http.StatusOK},
		{"bcrypt hash", config.AdminConfig{Password: "s3cret", PasswordHash: string(hash), ProtectLogs: true}, "hashed-secret", "192.0.2.1:1234", "", http.StatusOK},
		{"hash wins over plaintext", config.AdminConfig{Password: "s3cret", PasswordHash: string(hash), ProtectLogs: true}, "s3cret", "192.0.2.1:1234", "", http.StatusUnauthorized},
		{"ip allowed", config.AdminConfig{Password: "s3cret", ProtectLogs: true, AllowedIPs: []string{"192.0.2.0/24"}}, "s3cret", "192.0.2.1:1234", "", http.StatusOK},
		{"ip denied", config.AdminConfig{Password: "s3cret", ProtectLogs: true, AllowedIPs: []string{"10.0.0.0/8"}}, "s3cret", "192.0.2.1:1234", "", http.StatusForbidden},
		{"forwarded header ignored", config.AdminConfig{Password: "s3cret", ProtectLogs: true, AllowedIPs: []string{"10.0.0.0/8"}}, "s3cret", "192.0.2.1:1234", "10.1.2.3", http.StatusForbidden},
		{"open by default", config.AdminConfig{Password: "s3cret"}, "", "192.0.2.1:1234", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.Config) { c.Admin = tt.admin })

			req := httptest.NewRequest(http.MethodGet, "/logs", nil)
			req.RemoteAddr = tt.remote
			if tt.password != "" {
				req.SetBasicAuth("admin", tt.password)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			rec := env.do(req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusUnauthorized && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic ") {
				t.Errorf("WWW-Authenticate = %q, want Basic challenge", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestTrackingRoutesNotGated(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Admin.ProtectLogs = true
		c.Admin.AllowedIPs = []string{"10.0.0.0/8"}
	})

	if rec := env.do(httptest.NewRequest(http.MethodGet, "/track/abc-123", nil)); rec.Code != http.StatusOK {
		t.Errorf("GET /track status = %d, want 200", rec.Code)
	}
	if rec := env.do(httptest.NewRequest(http.MethodGet, "/send", nil)); rec.Code != http.StatusOK {
		t.Errorf("GET /send status = %d, want 200", rec.Code)
	}
}

func TestRecorderBackedTracking(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	store := logstore.NewStore(dir)
	recorder := logstore.NewRecorder(store, 4, nil, testLogger())

	srv, err := New(cfg, Deps{
		Composer: tracking.NewComposer(cfg.Tracking.BaseURL, nil),
		Sender:   &fakeSender{},
		Store:    store,
		Recorder: recorder,
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/abc-123", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
	recorder.Close()

	content, err := store.ReadAll(logstore.Opens)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if n := strings.Count(content, "PIXEL | ID: abc-123"); n != 20 {
		t.Errorf("recorded %d opens, want 20", n)
	}

	// Requests after Close are still served
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/abc-123", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after Close = %d, want 200", rec.Code)
	}
}

func TestNewRejectsInvalidAdminIPs(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Admin.AllowedIPs = []string{"not-an-ip"}

	_, err := New(cfg, Deps{}, nil, testLogger())
	if err == nil {
		t.Fatal("New() should reject malformed admin.allowed_ips")
	}
	if !strings.Contains(err.Error(), "admin.allowed_ips") {
		t.Errorf("New() error = %v", err)
	}
}
