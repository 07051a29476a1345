package docstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/agencydesk/internal/apperr"
	"github.com/starford/agencydesk/internal/checksum"
)

// OriginExternal tags changes detected outside any known writer (e.g. a file edited on disk).
const OriginExternal = "external"

const tombstone = ""

// Change is the signal broadcast after a document is written or removed.
// It carries no content: consumers re-load the key to see what changed.
type Change struct {
	Key     string    `json:"key"`
	Origin  string    `json:"origin,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// Listener receives change signals. It runs on the writer's goroutine and must not block.
type Listener func(Change)

type listener struct {
	key string
	fn  Listener
}

type originCtxKey struct{}

// WithOrigin tags writes made with ctx as coming from origin (a client, tab or instance id).
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originCtxKey{}, origin)
}

// OriginFrom returns the origin stored by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	o, _ := ctx.Value(originCtxKey{}).(string)
	return o
}

// OnChange registers fn for changes to key, or to every key when key is "".
// The returned function removes the registration.
func (s *Store) OnChange(key string, fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener{key: key, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) emit(c Change) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l.key == "" || l.key == c.Key {
			fns = append(fns, l.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) remember(key, sum string) {
	s.mu.Lock()
	s.written[key] = sum
	s.mu.Unlock()
}

// NotifyExternal broadcasts a change made outside this Store, such as another
// process writing the shared data directory. Echoes of this Store's own last
// write (same content checksum, or a delete we performed) are dropped.
func (s *Store) NotifyExternal(key, origin string) {
	if ValidateKey(key) != nil {
		return
	}
	// Holding writeMu orders this read after any in-flight write has been remembered.
	s.writeMu.Lock()
	data, err := s.provider.Read(key)
	deleted := errors.Is(err, apperr.ErrNotFound)
	if err != nil && !deleted {
		s.writeMu.Unlock()
		s.logger.Warn("docstore: external change read failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	sum := tombstone
	if !deleted {
		sum = checksum.Sum(data)
	}

	s.mu.Lock()
	prev, seen := s.written[key]
	if !seen || prev != sum {
		s.written[key] = sum
	}
	s.mu.Unlock()
	s.writeMu.Unlock()
	if seen && prev == sum {
		return
	}

	if origin == "" {
		origin = OriginExternal
	}
	s.logger.Debug("docstore: external change", slog.String("key", key), slog.String("origin", origin))
	s.emit(Change{Key: key, Origin: origin, Deleted: deleted, At: s.now()})
}
