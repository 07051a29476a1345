package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/storage"
	"github.com/starford/agencydesk/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []DocumentChanged
	err    error
}

func (p *recordingPublisher) PublishChange(_ context.Context, ev DocumentChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) snapshot() []DocumentChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DocumentChanged(nil), p.events...)
}

type changeLog struct {
	mu      sync.Mutex
	changes []docstore.Change
}

func (l *changeLog) add(c docstore.Change) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func (l *changeLog) snapshot() []docstore.Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]docstore.Change(nil), l.changes...)
}

func TestRelay_PublishesLocalChanges(t *testing.T) {
	store := testutil.TestStore(t, storage.NewMemory())
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, "inst-a", testutil.QuietLogger())
	cancel := relay.Attach()
	defer cancel()

	ctx := docstore.WithOrigin(context.Background(), "tab-1")
	require.NoError(t, store.Save(ctx, "clients", []string{"acme"}))
	require.NoError(t, store.Delete(ctx, "clients"))

	evs := pub.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, "clients", evs[0].Key)
	assert.Equal(t, "tab-1", evs[0].Origin)
	assert.Equal(t, "inst-a", evs[0].Instance)
	assert.False(t, evs[0].Deleted)
	assert.True(t, evs[1].Deleted)

	cancel()
	require.NoError(t, store.Save(ctx, "tasks", []string{}))
	assert.Len(t, pub.snapshot(), 2, "detached relay must not publish")
}

func TestRelay_PublishErrorDoesNotFailSave(t *testing.T) {
	store := testutil.TestStore(t, storage.NewMemory())
	pub := &recordingPublisher{err: errors.New("nats down")}
	cancel := NewRelay(store, pub, "inst-a", testutil.QuietLogger()).Attach()
	defer cancel()

	require.NoError(t, store.Save(context.Background(), "clients", []string{"acme"}))
	assert.Equal(t, []string{"acme"}, docstore.Load(store, "clients", []string(nil)))
}

func TestRelay_AppliesRemoteChanges(t *testing.T) {
	shared := storage.NewMemory()
	storeA := testutil.TestStore(t, shared)
	storeB := testutil.TestStore(t, shared)

	pubB := &recordingPublisher{}
	relayB := NewRelay(storeB, pubB, "inst-b", testutil.QuietLogger())
	cancel := relayB.Attach()
	defer cancel()

	var seen changeLog
	storeB.OnChange("", seen.add)

	require.NoError(t, storeA.Save(context.Background(), "invoices", []int{1, 2}))
	relayB.apply(DocumentChanged{Key: "invoices", Instance: "inst-a", At: time.Now()})

	changes := seen.snapshot()
	require.Len(t, changes, 1)
	assert.Equal(t, "invoices", changes[0].Key)
	assert.Equal(t, "instance:inst-a", changes[0].Origin)
	assert.Equal(t, []int{1, 2}, docstore.Load(storeB, "invoices", []int(nil)))

	assert.Empty(t, pubB.snapshot(), "remote changes must not be republished")
}

func TestRelay_IgnoresOwnInstanceAndUnkeyedChanges(t *testing.T) {
	store := testutil.TestStore(t, storage.NewMemory())
	relay := NewRelay(store, &recordingPublisher{}, "inst-a", testutil.QuietLogger())

	var seen changeLog
	store.OnChange("", seen.add)

	relay.apply(DocumentChanged{Key: "clients", Instance: "inst-a"})
	relay.apply(DocumentChanged{Instance: "inst-b"})

	assert.Empty(t, seen.snapshot())
}

func TestRelay_EndToEndOverNATS(t *testing.T) {
	url := startTestNATS(t)
	shared := storage.NewMemory()
	storeA := testutil.TestStore(t, shared)
	storeB := testutil.TestStore(t, shared)

	busA, err := Dial(url, "agencydesk", testutil.QuietLogger())
	require.NoError(t, err)
	defer busA.Close()
	cancelA := NewRelay(storeA, busA, "inst-a", testutil.QuietLogger()).Attach()
	defer cancelA()

	busB, err := Dial(url, "agencydesk", testutil.QuietLogger())
	require.NoError(t, err)
	defer busB.Close()
	relayB := NewRelay(storeB, busB, "inst-b", testutil.QuietLogger())

	received := make(chan docstore.Change, 4)
	storeB.OnChange("tasks", func(c docstore.Change) { received <- c })

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := busB.Changes(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		relayB.Consume(ctx, changes)
		close(done)
	}()

	require.NoError(t, storeA.Save(context.Background(), "tasks", []string{"ship"}))
	require.NoError(t, busA.Flush())

	select {
	case c := <-received:
		assert.Equal(t, "tasks", c.Key)
		assert.Equal(t, "instance:inst-a", c.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not stop after cancel")
	}
}
