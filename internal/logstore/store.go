// Package logstore persists tracking events as append-only text logs.
package logstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/foxzi/mailtrack/internal/tracking"
)

// Name identifies one of the tracking logs
type Name string

const (
	Opens  Name = "opens"
	Clicks Name = "clicks"
	Sends  Name = "sends"
)

var (
	// ErrUnknownLog is returned for a log name outside Names()
	ErrUnknownLog = errors.New("unknown log")
	// ErrClosed is returned when recording after Close
	ErrClosed = errors.New("recorder closed")
)

type logFile struct {
	file        string
	placeholder string
}

var logFiles = map[Name]logFile{
	Opens:  {file: "email_logs.txt", placeholder: "No hay registros de apertura disponibles"},
	Clicks: {file: "email_links_logs.txt", placeholder: "No hay registros de clics en enlaces disponibles"},
	Sends:  {file: "emails_sent.txt", placeholder: "No hay registros de envío disponibles"},
}

// Names returns all log names in display order
func Names() []Name {
	return []Name{Opens, Clicks, Sends}
}

// ForKind returns the log that stores events of the given kind
func ForKind(kind tracking.Kind) (Name, error) {
	switch kind {
	case tracking.KindOpen:
		return Opens, nil
	case tracking.KindClick:
		return Clicks, nil
	case tracking.KindSent:
		return Sends, nil
	}
	return "", fmt.Errorf("%w: no log for event kind %q", ErrUnknownLog, kind)
}

// Placeholder returns the text shown when the log has no file yet
func Placeholder(name Name) string {
	return logFiles[name].placeholder
}

// Store appends lines to the log files in a directory.
// Appends to the same file are serialized; different files are independent.
type Store struct {
	dir   string
	locks map[Name]*sync.Mutex
}

// NewStore creates a store rooted at dir. The directory is created on first append.
func NewStore(dir string) *Store {
	locks := make(map[Name]*sync.Mutex, len(logFiles))
	for name := range logFiles {
		locks[name] = &sync.Mutex{}
	}
	return &Store{dir: dir, locks: locks}
}

// Dir returns the directory holding the log files
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path of a log
func (s *Store) Path(name Name) (string, error) {
	lf, ok := logFiles[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLog, name)
	}
	return filepath.Join(s.dir, lf.file), nil
}

// Record appends the event to the log matching its kind
func (s *Store) Record(event tracking.Event) error {
	name, err := ForKind(event.Kind)
	if err != nil {
		return err
	}
	return s.Append(name, event)
}

// Append writes the event as a single line to the named log
func (s *Store) Append(name Name, event tracking.Event) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}

	mu := s.locks[name]
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	// One Write per line keeps the line whole under O_APPEND
	if _, err := f.WriteString(event.Line()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// ReadAll returns the whole content of the named log, or its placeholder
// when the file does not exist yet
func (s *Store) ReadAll(name Name) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Placeholder(name), nil
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Sizes returns the byte size of every log file that exists
func (s *Store) Sizes() map[string]int64 {
	sizes := make(map[string]int64, len(logFiles))
	for name, lf := range logFiles {
		if info, err := os.Stat(filepath.Join(s.dir, lf.file)); err == nil {
			sizes[string(name)] = info.Size()
		}
	}
	return sizes
}
