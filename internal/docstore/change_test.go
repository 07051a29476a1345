package docstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/agencydesk/internal/storage"
)

func TestOnChange_KeyFilterAndCancel(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := WithOrigin(context.Background(), "tab-1")

	var mu sync.Mutex
	var all, clients []Change
	cancelAll := s.OnChange("", func(c Change) {
		mu.Lock()
		all = append(all, c)
		mu.Unlock()
	})
	s.OnChange("clients", func(c Change) {
		mu.Lock()
		clients = append(clients, c)
		mu.Unlock()
	})

	require.NoError(t, s.Save(ctx, "clients", []int{1}))
	require.NoError(t, s.Save(ctx, "invoices", []int{2}))

	assert.Len(t, all, 2)
	require.Len(t, clients, 1)
	assert.Equal(t, "clients", clients[0].Key)
	assert.Equal(t, "tab-1", clients[0].Origin)
	assert.False(t, clients[0].At.IsZero())

	cancelAll()
	require.NoError(t, s.Save(ctx, "invoices", []int{3}))
	assert.Len(t, all, 2, "cancelled listener must not fire")
}

func TestOriginFrom(t *testing.T) {
	assert.Equal(t, "", OriginFrom(context.Background()))
	assert.Equal(t, "x", OriginFrom(WithOrigin(context.Background(), "x")))
}

func TestNotifyExternal_SuppressesOwnWrites(t *testing.T) {
	mem := storage.NewMemory()
	s := newTestStore(t, mem)
	ctx := context.Background()

	var got []Change
	s.OnChange("", func(c Change) { got = append(got, c) })

	require.NoError(t, s.Save(ctx, "clients", []int{1}))
	require.Len(t, got, 1)

	// Watcher sees our own write: dropped.
	s.NotifyExternal("clients", "")
	assert.Len(t, got, 1)

	// Another process rewrites the document.
	require.NoError(t, mem.Write("clients", []byte(`[1,2]`)))
	s.NotifyExternal("clients", "")
	require.Len(t, got, 2)
	assert.Equal(t, OriginExternal, got[1].Origin)

	// Duplicate notification for the same content is dropped.
	s.NotifyExternal("clients", "")
	assert.Len(t, got, 2)

	// External delete.
	require.NoError(t, mem.Delete("clients"))
	s.NotifyExternal("clients", "instance-b")
	require.Len(t, got, 3)
	assert.True(t, got[2].Deleted)
	assert.Equal(t, "instance-b", got[2].Origin)
}

func TestNotifyExternal_OwnDeleteSuppressed(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "tasks", []int{}))
	require.NoError(t, s.Delete(ctx, "tasks"))

	var n int
	s.OnChange("", func(Change) { n++ })
	s.NotifyExternal("tasks", "")
	assert.Equal(t, 0, n)
}

func TestNotifyExternal_IgnoresReservedKeys(t *testing.T) {
	s := newTestStore(t, nil)
	var n int
	s.OnChange("", func(Change) { n++ })
	s.NotifyExternal("_lastBackup", "")
	assert.Equal(t, 0, n)
}
