// Package backup exports the document store to backup destinations on a schedule.
package backup

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/agencydesk/internal/docstore"
)

// Destination is the interface for a backup target (S3, local directory).
type Destination interface {
	// Write stores the bundle under the given file name.
	Write(ctx context.Context, name string, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	store        *docstore.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports the store to the given
// destinations at the specified interval.
func NewScheduler(s *docstore.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic backups. It runs one immediately, then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current backup (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce exports the store and writes the bundle to every destination.
// An empty store is not backed up. The backup time is recorded only when at
// least one destination accepted the bundle, which is also what it reports.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.store.HasStoredData() {
		s.logger.Debug("backup skipped: no data")
		return false
	}

	var buf bytes.Buffer
	name, at, err := s.store.WriteBundle(ctx, &buf)
	if err != nil {
		s.logger.Error("backup export failed", slog.String("error", err.Error()))
		return false
	}
	data := buf.Bytes()

	ok := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, name, data); err != nil {
			s.logger.Error("backup destination write failed",
				slog.Int("destination", i), slog.String("error", err.Error()))
			continue
		}
		ok++
	}

	if ok == 0 {
		s.logger.Error("backup failed: no destination accepted the bundle", slog.String("name", name))
		return false
	}
	if err := s.store.RecordBackup(at); err != nil {
		s.logger.Warn("backup time not recorded", slog.String("error", err.Error()))
	}

	s.logger.Info("backup completed",
		slog.String("name", name),
		slog.Int("destinations", ok),
		slog.Int("bytes", len(data)))
	return true
}
