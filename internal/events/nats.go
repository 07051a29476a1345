package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// feedBuffer bounds the changes queued for a slow consumer.
const feedBuffer = 64

// Bus publishes and receives DocumentChanged signals on one NATS subject.
type Bus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Dial connects to NATS at url and binds the bus to prefix+SubjectSuffix.
// The connection reconnects forever; extra options are applied after the defaults.
func Dial(url, prefix string, logger *slog.Logger, opts ...nats.Option) (*Bus, error) {
	defaults := []nats.Option{
		nats.Name("agencydesk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("events: disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("events: reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	return &Bus{conn: nc, subject: prefix + SubjectSuffix, logger: logger}, nil
}

// Subject returns the subject the bus publishes and listens on.
func (b *Bus) Subject() string {
	return b.subject
}

// PublishChange sends ev to every instance listening on the subject.
func (b *Bus) PublishChange(_ context.Context, ev DocumentChanged) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode change: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Key, err)
	}
	return nil
}

// Flush waits until the server has processed every published change.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Changes subscribes to the subject and returns decoded changes. Payloads
// that do not decode to a keyed change are dropped. A full channel drops
// changes rather than stalling the NATS client.
func (b *Bus) Changes(ctx context.Context) (<-chan DocumentChanged, error) {
	ch := make(chan DocumentChanged, feedBuffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev DocumentChanged
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.Key == "" {
			b.logger.Warn("events: dropping malformed change", slog.Int("bytes", len(msg.Data)))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.logger.Warn("events: feed full, change dropped", slog.String("key", ev.Key))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", b.subject, err)
	}
	// The subscription must reach the server before changes from other
	// connections are routed to it.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("events: subscribe %s: %w", b.subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

// Close drops the NATS connection.
func (b *Bus) Close() {
	b.conn.Close()
}
