// Package docstore implements the local document store: named JSON documents with
// defaulting loads, last-write-wins saves, bundle export/import, backup bookkeeping
// and a change signal broadcast after every successful write.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
	"github.com/starford/agencydesk/internal/models"
	"github.com/starford/agencydesk/internal/storage"
)

// ReservedPrefix marks keys used for store bookkeeping. Callers cannot save them.
const ReservedPrefix = "_"

const lastBackupKey = ReservedPrefix + "lastBackup"

// DefaultKeys are the documents the dashboard persists locally.
var DefaultKeys = []string{
	"clients",
	"invoices",
	"tasks",
	"notifications",
	"strikes",
	"displayTitles",
	"calendar-events",
}

// DefaultLegacyKeys were superseded by the server-backed API and are removed at startup.
var DefaultLegacyKeys = []string{
	"users",
	"teamMembers",
	"userRoles",
}

// Store is the document store façade over a storage.Provider.
type Store struct {
	provider    storage.Provider
	logger      *slog.Logger
	appName     string
	known       []string
	legacy      []string
	maxDocBytes int
	now         func() time.Time

	// writeMu serializes mutations so writes apply in call order.
	writeMu sync.Mutex

	mu        sync.Mutex
	listeners map[uint64]listener
	nextID    uint64
	// written holds the checksum of this process's last write per key
	// (tombstone after a delete), used to drop echoes of our own writes.
	written map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for failures that are not returned to callers.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAppName sets the name used in export file names and bundle metadata.
func WithAppName(name string) Option {
	return func(s *Store) { s.appName = name }
}

// WithKnownKeys sets the recognized document keys consulted by HasStoredData.
func WithKnownKeys(keys []string) Option {
	return func(s *Store) { s.known = append([]string(nil), keys...) }
}

// WithLegacyKeys sets the keys removed by CleanupOldData.
func WithLegacyKeys(keys []string) Option {
	return func(s *Store) { s.legacy = append([]string(nil), keys...) }
}

// WithMaxDocumentBytes caps the encoded size of a single document. Zero disables the cap.
func WithMaxDocumentBytes(n int) Option {
	return func(s *Store) { s.maxDocBytes = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over provider.
func New(provider storage.Provider, opts ...Option) *Store {
	s := &Store{
		provider:  provider,
		logger:    slog.Default(),
		appName:   "agencydesk",
		known:     append([]string(nil), DefaultKeys...),
		legacy:    append([]string(nil), DefaultLegacyKeys...),
		now:       time.Now,
		listeners: make(map[uint64]listener),
		written:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppName returns the configured application name.
func (s *Store) AppName() string {
	return s.appName
}

// ValidateKey reports whether key may be used for a caller document.
func ValidateKey(key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if strings.HasPrefix(key, ReservedPrefix) {
		return fmt.Errorf("%w: %q is reserved", apperr.ErrInvalidKey, key)
	}
	return nil
}

// Load returns the document stored under key decoded as T, or def when the key is
// absent, unreadable or holds data that does not decode as T. It never fails.
func Load[T any](s *Store, key string, def T) T {
	raw, ok := s.Raw(key)
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn("docstore: decode failed, using default",
			slog.String("key", key), slog.String("error", err.Error()))
		return def
	}
	return v
}

// Raw returns the stored JSON for key. ok is false when the key is absent or its
// content is not valid JSON.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	data, err := s.provider.Read(key)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("docstore: read failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil, false
	}
	if !json.Valid(data) {
		s.logger.Warn("docstore: corrupt document ignored", slog.String("key", key))
		return nil, false
	}
	return json.RawMessage(data), true
}

// Save serializes value and stores it under key, replacing prior content.
// On failure the previous content is untouched and the error is logged and returned.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		err = fmt.Errorf("docstore: save %s: %w: %v", key, apperr.ErrSerialize, err)
		s.logger.Error("docstore: serialize failed", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}
	return s.write(ctx, key, data)
}

// SaveRaw stores already-encoded JSON under key.
func (s *Store) SaveRaw(ctx context.Context, key string, raw []byte) error {
	if !json.Valid(raw) {
		err := fmt.Errorf("docstore: save %s: %w: invalid JSON", key, apperr.ErrSerialize)
		s.logger.Error("docstore: serialize failed", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}
	return s.write(ctx, key, raw)
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		s.logger.Error("docstore: save rejected", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}
	if s.maxDocBytes > 0 && len(data) > s.maxDocBytes {
		err := fmt.Errorf("docstore: save %s: %w: %d bytes > %d", key, apperr.ErrQuotaExceeded, len(data), s.maxDocBytes)
		s.logger.Error("docstore: save rejected", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}

	s.writeMu.Lock()
	err := s.provider.Write(key, data)
	if err == nil {
		s.remember(key, checksum.Sum(data))
	}
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Error("docstore: save failed", slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("docstore: save %s: %w", key, err)
	}
	s.emit(Change{Key: key, Origin: OriginFrom(ctx), At: s.now()})
	return nil
}

// Delete removes key. Missing keys return an error matching apperr.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.writeMu.Lock()
	err := s.provider.Delete(key)
	if err == nil {
		s.remember(key, tombstone)
	}
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", key, err)
	}
	s.emit(Change{Key: key, Origin: OriginFrom(ctx), Deleted: true, At: s.now()})
	return nil
}

// List returns metadata for every caller document, excluding reserved keys.
func (s *Store) List() ([]models.DocumentMeta, error) {
	metas, err := s.provider.List()
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	out := make([]models.DocumentMeta, 0, len(metas))
	for _, m := range metas {
		if strings.HasPrefix(m.Key, ReservedPrefix) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Keys returns the keys of every caller document.
func (s *Store) Keys() ([]string, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(metas))
	for i, m := range metas {
		keys[i] = m.Key
	}
	return keys, nil
}

// HasStoredData reports whether any recognized key holds non-empty content.
func (s *Store) HasStoredData() bool {
	for _, k := range s.known {
		raw, ok := s.Raw(k)
		if ok && !isEmptyJSON(raw) {
			return true
		}
	}
	return false
}

// CleanupOldData removes the legacy keys. It is safe to call on every startup
// and returns the number of keys actually removed.
func (s *Store) CleanupOldData(ctx context.Context) int {
	removed := 0
	for _, k := range s.legacy {
		s.writeMu.Lock()
		err := s.provider.Delete(k)
		if err == nil {
			s.remember(k, tombstone)
		}
		s.writeMu.Unlock()

		switch {
		case err == nil:
			removed++
			s.logger.Info("docstore: removed legacy key", slog.String("key", k))
			s.emit(Change{Key: k, Origin: OriginFrom(ctx), Deleted: true, At: s.now()})
		case errors.Is(err, apperr.ErrNotFound):
		default:
			s.logger.Warn("docstore: legacy cleanup failed", slog.String("key", k), slog.String("error", err.Error()))
		}
	}
	return removed
}

func isEmptyJSON(raw []byte) bool {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return true
	}
	switch buf.String() {
	case "null", "[]", "{}", `""`:
		return true
	}
	return false
}
