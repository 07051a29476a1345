package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/agencydesk/internal/docstore"
)

// Relay bridges a docstore.Store and other instances: local changes are
// published, remote changes are fed back through Store.NotifyExternal.
type Relay struct {
	store    *docstore.Store
	pub      Publisher
	instance string
	logger   *slog.Logger
}

// NewRelay creates a relay announcing changes through pub as instance.
func NewRelay(store *docstore.Store, pub Publisher, instance string, logger *slog.Logger) *Relay {
	return &Relay{
		store:    store,
		pub:      pub,
		instance: instance,
		logger:   logger,
	}
}

// Attach registers the relay as a store listener. Changes that arrived from
// another instance are not republished.
func (r *Relay) Attach() (cancel func()) {
	return r.store.OnChange("", func(c docstore.Change) {
		if isRemote(c.Origin) {
			return
		}
		ev := DocumentChanged{
			Key:      c.Key,
			Origin:   c.Origin,
			Instance: r.instance,
			Deleted:  c.Deleted,
			At:       c.At,
		}
		if err := r.pub.PublishChange(context.Background(), ev); err != nil {
			r.logger.Warn("relay: publish failed", slog.String("key", c.Key), slog.String("error", err.Error()))
		}
	})
}

// Run applies changes from feed until ctx is done.
func (r *Relay) Run(ctx context.Context, feed Feed) error {
	changes, err := feed.Changes(ctx)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	r.logger.Info("relay: listening", slog.String("instance", r.instance))
	r.Consume(ctx, changes)
	return nil
}

// Consume applies remote changes until ctx is done or changes closes.
func (r *Relay) Consume(ctx context.Context, changes <-chan DocumentChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			r.apply(ev)
		}
	}
}

// apply skips this instance's own announcements.
func (r *Relay) apply(ev DocumentChanged) {
	if ev.Instance == r.instance || ev.Key == "" {
		return
	}
	r.store.NotifyExternal(ev.Key, remoteOrigin(ev.Instance))
}

const remotePrefix = "instance:"

func remoteOrigin(instance string) string {
	return remotePrefix + instance
}

func isRemote(origin string) bool {
	return strings.HasPrefix(origin, remotePrefix)
}
