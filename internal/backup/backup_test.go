package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/testutil"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	mu     sync.Mutex
	name   string
	last   []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, name string, data []byte) error {
	d.writes.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
	d.last = append([]byte(nil), data...)
	return d.err
}

func seededStore(t *testing.T) *docstore.Store {
	t.Helper()
	s := testutil.TestStore(t, nil)
	require.NoError(t, s.Save(context.Background(), "clients", []string{"acme"}))
	return s
}

func TestSchedulerStartStop(t *testing.T) {
	store := seededStore(t)
	dest := &mockDestination{}

	sched := NewScheduler(store, []Destination{dest}, 50*time.Millisecond, testutil.QuietLogger())
	sched.Start()

	// Wait for at least the initial backup + one tick.
	time.Sleep(120 * time.Millisecond)
	sched.Stop()

	require.GreaterOrEqual(t, dest.writes.Load(), int64(2))

	dest.mu.Lock()
	defer dest.mu.Unlock()
	assert.True(t, strings.HasPrefix(dest.name, "agencydesk-backup-"))

	var bundle map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(dest.last, &bundle))
	assert.JSONEq(t, `["acme"]`, string(bundle["clients"]))
	assert.Contains(t, bundle, docstore.MetaKey)
}

func TestRunOnce_RecordsLastBackup(t *testing.T) {
	store := seededStore(t)
	_, ok := store.LastBackupTime()
	require.False(t, ok)

	sched := NewScheduler(store, []Destination{&mockDestination{}}, time.Hour, testutil.QuietLogger())
	assert.True(t, sched.RunOnce(context.Background()))

	_, ok = store.LastBackupTime()
	assert.True(t, ok)
}

func TestRunOnce_SkipsEmptyStore(t *testing.T) {
	store := testutil.TestStore(t, testutil.TestSQLite(t))
	dest := &mockDestination{}

	sched := NewScheduler(store, []Destination{dest}, time.Hour, testutil.QuietLogger())
	assert.False(t, sched.RunOnce(context.Background()))
	assert.Zero(t, dest.writes.Load())
}

func TestRunOnce_OneFailingDestination(t *testing.T) {
	store := seededStore(t)
	bad := &mockDestination{err: errors.New("disk full")}
	good := &mockDestination{}

	sched := NewScheduler(store, []Destination{bad}, time.Hour, testutil.QuietLogger())
	assert.False(t, sched.RunOnce(context.Background()))
	_, recorded := store.LastBackupTime()
	assert.False(t, recorded, "no destination accepted the bundle")

	sched = NewScheduler(store, []Destination{bad, good}, time.Hour, testutil.QuietLogger())
	assert.True(t, sched.RunOnce(context.Background()))
	assert.Equal(t, int64(2), bad.writes.Load())
	assert.Equal(t, int64(1), good.writes.Load())
	_, recorded = store.LastBackupTime()
	assert.True(t, recorded)
}

func TestDirDestination(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	dest, err := NewDirDestination(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, dest.Write(ctx, "agencydesk-backup-2026-10-18.json", []byte(`{"a":1}`)))
	require.NoError(t, dest.Write(ctx, "agencydesk-backup-2026-10-18.json", []byte(`{"a":2}`)))

	got, err := os.ReadFile(filepath.Join(dir, "agencydesk-backup-2026-10-18.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakePutter{}
	dest := &S3Destination{client: fake, bucket: "backups", prefix: "desk/"}

	ctx := context.Background()
	require.NoError(t, dest.Write(ctx, "agencydesk-backup-2026-10-18.json", []byte(`{}`)))
	require.NoError(t, dest.Write(ctx, "agencydesk-backup-2026-10-18.json", []byte(`{}`)))
	require.Len(t, fake.inputs, 2)

	in := fake.inputs[0]
	assert.Equal(t, "backups", *in.Bucket)
	assert.Equal(t, "application/json", *in.ContentType)
	assert.True(t, strings.HasPrefix(*in.Key, "desk/agencydesk-backup-2026-10-18-"))
	assert.True(t, strings.HasSuffix(*in.Key, ".json"))
	assert.NotEqual(t, *fake.inputs[0].Key, *fake.inputs[1].Key)
	assert.Equal(t, `{}`, string(fake.bodies[0]))
}

func TestS3Destination_WriteError(t *testing.T) {
	dest := &S3Destination{client: &fakePutter{err: errors.New("denied")}, bucket: "b"}
	err := dest.Write(context.Background(), "x.json", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 put object")
}
