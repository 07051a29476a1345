package storage

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/agencydesk/internal/apperr"
)

func TestSQLite_RoundTrip(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Write("invoices", []byte(`[{"id":"inv-1"}]`)))
	require.NoError(t, s.Write("invoices", []byte(`[{"id":"inv-2"}]`)))

	got, err := s.Read("invoices")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"inv-2"}]`, string(got))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "invoices", items[0].Key)
	assert.Equal(t, len(`[{"id":"inv-2"}]`), items[0].Size)

	require.NoError(t, s.Delete("invoices"))
	_, err = s.Read("invoices")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.Delete("invoices"), apperr.ErrNotFound)
}

func TestPostgres_Write(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS documents")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQL(db, Postgres)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (key, value, checksum, updated_at)")).
		WithArgs("clients", `[]`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Write("clients", []byte(`[]`)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQL(db, Postgres)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM documents WHERE key = $1")).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, err = s.Read("tasks")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "err = %v", err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM documents WHERE key = $1")).
		WithArgs("tasks").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`[{"t":1}]`))
	got, err := s.Read("tasks")
	require.NoError(t, err)
	assert.Equal(t, `[{"t":1}]`, string(got))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQL(db, Postgres)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, octet_length(value), checksum, updated_at FROM documents")).
		WillReturnRows(sqlmock.NewRows([]string{"key", "size", "checksum", "updated_at"}).
			AddRow("clients", 2, "abc", now).
			AddRow("tasks", 4, "def", now))
	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "tasks", items[1].Key)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE key = $1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete("ghost"), apperr.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	_, err = NewSQL(db, Postgres)
	assert.Error(t, err)
}
