package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
	"github.com/starford/agencydesk/internal/models"
)

// MetaKey is the bundle field holding export metadata.
const MetaKey = "_meta"

// BundleVersion is the format version written by Export.
const BundleVersion = 1

// Bundle is a full-dataset export: every document plus metadata.
// On the wire it is one JSON object mapping keys to documents, with MetaKey
// holding the metadata.
type Bundle struct {
	Meta      models.BundleMeta
	Documents map[string]json.RawMessage
}

// MarshalJSON flattens the bundle into a single object.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Documents)+1)
	for k, v := range b.Documents {
		out[k] = v
	}
	out[MetaKey] = b.Meta
	return json.Marshal(out)
}

// Keys returns the bundle's document keys in sorted order.
func (b *Bundle) Keys() []string {
	keys := make([]string, 0, len(b.Documents))
	for k := range b.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseBundle decodes and validates an exported bundle. maxDocBytes of zero
// disables the per-document size check.
func ParseBundle(data []byte, maxDocBytes int) (*Bundle, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top level must be a JSON object", apperr.ErrInvalidBundle)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidBundle, err)
	}

	b := &Bundle{Documents: make(map[string]json.RawMessage, len(fields))}
	if raw, ok := fields[MetaKey]; ok {
		if err := json.Unmarshal(raw, &b.Meta); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", apperr.ErrInvalidBundle, err)
		}
		if b.Meta.Version > BundleVersion {
			return nil, fmt.Errorf("%w: unsupported version %d", apperr.ErrInvalidBundle, b.Meta.Version)
		}
		delete(fields, MetaKey)
	}

	for k, v := range fields {
		if err := ValidateKey(k); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidBundle, err)
		}
		// Exported bundles are indented; documents are sized and stored compact, as Save does.
		var compact bytes.Buffer
		if err := json.Compact(&compact, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidBundle, k, err)
		}
		if maxDocBytes > 0 && compact.Len() > maxDocBytes {
			return nil, fmt.Errorf("%w: %s: %w", apperr.ErrInvalidBundle, k, apperr.ErrQuotaExceeded)
		}
		b.Documents[k] = json.RawMessage(compact.Bytes())
	}
	return b, nil
}

// BackupFilename returns the deterministic export file name for t.
func (s *Store) BackupFilename(t time.Time) string {
	return fmt.Sprintf("%s-backup-%s.json", s.appName, t.UTC().Format("2006-01-02"))
}

// Export builds a bundle of every readable document. It does not touch stored data.
// Documents holding corrupt JSON are skipped.
func (s *Store) Export(_ context.Context) (*Bundle, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		Meta: models.BundleMeta{
			ExportedAt: s.now().UTC(),
			Version:    BundleVersion,
			App:        s.appName,
		},
		Documents: make(map[string]json.RawMessage, len(keys)),
	}
	for _, k := range keys {
		raw, ok := s.Raw(k)
		if !ok {
			continue
		}
		b.Documents[k] = raw
	}
	return b, nil
}

// ExportAllData writes the full bundle to w, records the export as the last
// backup time and returns the file name the bundle should be saved under.
// Callers that deliver the bundle somewhere after w use WriteBundle and
// RecordBackup instead, so a failed delivery is not counted as a backup.
func (s *Store) ExportAllData(ctx context.Context, w io.Writer) (string, error) {
	name, at, err := s.WriteBundle(ctx, w)
	if err != nil {
		return "", err
	}
	if err := s.RecordBackup(at); err != nil {
		s.logger.Warn("docstore: record backup time failed", slog.String("error", err.Error()))
	}
	return name, nil
}

// WriteBundle writes the full bundle to w without touching backup bookkeeping.
// It returns the bundle file name and export time.
func (s *Store) WriteBundle(ctx context.Context, w io.Writer) (string, time.Time, error) {
	b, err := s.Export(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return "", time.Time{}, fmt.Errorf("docstore: encode bundle: %w", err)
	}
	s.logger.Info("docstore: exported",
		slog.Int("documents", len(b.Documents)),
		slog.Time("exported_at", b.Meta.ExportedAt))
	return s.BackupFilename(b.Meta.ExportedAt), b.Meta.ExportedAt, nil
}

// RecordBackup stores t as the last backup time.
func (s *Store) RecordBackup(t time.Time) error {
	stamp, err := json.Marshal(t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.provider.Write(lastBackupKey, stamp); err != nil {
		return fmt.Errorf("docstore: record backup: %w", err)
	}
	return nil
}

// LastBackupTime returns the time of the most recent ExportAllData. ok is false
// if no export has been recorded.
func (s *Store) LastBackupTime() (t time.Time, ok bool) {
	data, err := s.provider.Read(lastBackupKey)
	if err != nil {
		return time.Time{}, false
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return time.Time{}, false
	}
	t, err = time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BackupStatus reports backup bookkeeping for UI messaging.
func (s *Store) BackupStatus() models.BackupStatus {
	st := models.BackupStatus{HasData: s.HasStoredData()}
	if t, ok := s.LastBackupTime(); ok {
		st.LastBackup = &t
	}
	return st
}

type priorState struct {
	data    []byte
	existed bool
}

// ImportData applies an exported bundle. Every key is validated before anything
// is written; keys not in the bundle are left alone. If a write fails, keys
// already written are restored and the error is returned. It returns the number
// of documents written.
func (s *Store) ImportData(ctx context.Context, text []byte) (int, error) {
	b, err := ParseBundle(text, s.maxDocBytes)
	if err != nil {
		s.logger.Warn("docstore: import rejected", slog.String("error", err.Error()))
		return 0, err
	}
	keys := b.Keys()

	s.writeMu.Lock()
	prior := make(map[string]priorState, len(keys))
	for _, k := range keys {
		data, err := s.provider.Read(k)
		switch {
		case err == nil:
			prior[k] = priorState{data: data, existed: true}
		case errors.Is(err, apperr.ErrNotFound):
			prior[k] = priorState{}
		default:
			s.writeMu.Unlock()
			return 0, fmt.Errorf("docstore: import snapshot %s: %w", k, err)
		}
	}

	for i, k := range keys {
		if err := s.provider.Write(k, b.Documents[k]); err != nil {
			s.rollback(keys[:i], prior)
			s.writeMu.Unlock()
			s.logger.Error("docstore: import failed, rolled back",
				slog.String("key", k), slog.String("error", err.Error()))
			return 0, fmt.Errorf("docstore: import %s: %w", k, err)
		}
	}
	for _, k := range keys {
		s.remember(k, checksum.Sum(b.Documents[k]))
	}
	s.writeMu.Unlock()

	origin := OriginFrom(ctx)
	for _, k := range keys {
		s.emit(Change{Key: k, Origin: origin, At: s.now()})
	}
	s.logger.Info("docstore: imported", slog.Int("documents", len(keys)))
	return len(keys), nil
}

// rollback restores keys to their pre-import state. Caller holds writeMu.
func (s *Store) rollback(keys []string, prior map[string]priorState) {
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		p := prior[k]
		var err error
		if p.existed {
			err = s.provider.Write(k, p.data)
		} else {
			err = s.provider.Delete(k)
		}
		if err != nil {
			s.logger.Error("docstore: rollback failed", slog.String("key", k), slog.String("error", err.Error()))
		}
	}
}
