// Package transferlog records a summary of every finished transfer.
// Entries are an audit trail only; transfers are never resumed from them.
package transferlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skycoin/rft/pkg/sender"
)

// ErrNotFound is returned when no entry is stored under an ID.
var ErrNotFound = errors.New("transfer log entry not found")

// Entry describes a single transfer.
type Entry struct {
	ID       uuid.UUID    `json:"id"`
	Host     string       `json:"host"`
	Port     uint16       `json:"port"`
	File     string       `json:"file"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Stats    sender.Stats `json:"stats"`
	Error    string       `json:"error,omitempty"`
}

// NewEntry starts an entry for a transfer of file to host:port.
func NewEntry(host string, port uint16, file string) *Entry {
	return &Entry{
		ID:      uuid.New(),
		Host:    host,
		Port:    port,
		File:    file,
		Started: time.Now(),
	}
}

// Finish completes the entry with the outcome of the transfer.
func (e *Entry) Finish(stats sender.Stats, err error) {
	e.Finished = time.Now()
	e.Stats = stats
	if err != nil {
		e.Error = err.Error()
	}
}

// Duration returns how long the transfer took.
func (e *Entry) Duration() time.Duration {
	return e.Finished.Sub(e.Started)
}

// Store stores transfer log entries.
type Store interface {
	Entry(id uuid.UUID) (*Entry, error)
	Record(entry *Entry) error
	Close() error
}

// New creates a Store from a "type[:location]" spec: "memory", "file:<dir>"
// or "boltdb:<path>".
func New(spec string) (Store, error) {
	typ, location := spec, ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		typ, location = spec[:i], spec[i+1:]
	}
	switch typ {
	case "", "memory":
		return InMemoryStore(), nil
	case "file":
		if location == "" {
			return nil, errors.New("file transfer log requires a directory")
		}
		return FileStore(location)
	case "boltdb":
		if location == "" {
			return nil, errors.New("boltdb transfer log requires a path")
		}
		return BoltDBStore(location)
	default:
		return nil, errors.Errorf("unknown transfer log type %q", typ)
	}
}

type inMemoryStore struct {
	entries map[uuid.UUID]Entry
	mu      sync.Mutex
}

// InMemoryStore implements in-memory Store.
func InMemoryStore() Store {
	return &inMemoryStore{
		entries: map[uuid.UUID]Entry{},
	}
}

func (s *inMemoryStore) Entry(id uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *inMemoryStore) Record(entry *Entry) error {
	s.mu.Lock()
	s.entries[entry.ID] = *entry
	s.mu.Unlock()
	return nil
}

func (s *inMemoryStore) Close() error { return nil }

type fileStore struct {
	dir string
}

// FileStore implements Store with one JSON file per entry in dir.
func FileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create transfer log directory")
	}
	return &fileStore{dir}, nil
}

func (s *fileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", id))
}

func (s *fileStore) Entry(id uuid.UUID) (*Entry, error) {
	f, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open: %s", err)
	}
	defer f.Close() //nolint:errcheck

	entry := &Entry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, fmt.Errorf("json: %s", err)
	}

	return entry, nil
}

func (s *fileStore) Record(entry *Entry) error {
	f, err := os.OpenFile(s.path(entry.ID), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open: %s", err)
	}

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		f.Close() //nolint:errcheck,gosec
		return fmt.Errorf("json: %s", err)
	}

	return f.Close()
}

func (s *fileStore) Close() error { return nil }
