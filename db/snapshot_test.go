package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	sttest "github.com/teranos/statetree/internal/testing"
	"github.com/teranos/statetree/st"
)

func newStore(t *testing.T) (*SnapshotStore, *sql.DB) {
	t.Helper()
	db := sttest.CreateTestDB(t)
	require.NoError(t, Migrate(db, nil))
	return NewSnapshotStore(db, nil, zaptest.NewLogger(t).Sugar()), db
}

func sampleUpdate() st.Update {
	u := st.NewUpdate()
	u.Put(sttest.Key("profile/hostname"), st.AttributeValue{Timestamp: 10, Value: st.String("dev1")})
	u.Put(sttest.Key("profile/os"), st.AttributeValue{Timestamp: 11, Value: st.OsLinux})
	u.Put(sttest.Key("metrics/load(1..5)"),
		st.AttributeValue{Timestamp: 5, Value: st.Long(3)},
		st.AttributeValue{Timestamp: 1, Value: st.Long(1)},
	)
	return u
}

var updateCmp = []cmp.Option{cmpopts.EquateEmpty()}

func TestSnapshotSaveLoad(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	u := sampleUpdate()

	info, err := store.Save(ctx, "agent-1", u)
	require.NoError(t, err)
	assert.Equal(t, "cbor", info.Codec)
	assert.Equal(t, 3, info.Entries)
	assert.Positive(t, info.Size)

	want, err := codec.Hash(u)
	require.NoError(t, err)
	assert.Equal(t, want, info.Digest)

	got, err := store.Load(ctx, "agent-1")
	require.NoError(t, err)
	if diff := cmp.Diff(u, got, updateCmp...); diff != "" {
		t.Errorf("load (-want +got):\n%s", diff)
	}
}

func TestSnapshotOverwrite(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	store.now = func() time.Time { return time.UnixMilli(1000) }
	_, err := store.Save(ctx, "a", sampleUpdate())
	require.NoError(t, err)

	store.now = func() time.Time { return time.UnixMilli(2000) }
	smaller := st.NewUpdate()
	smaller.Put(sttest.Key("x"), st.AttributeValue{Timestamp: 1, Value: st.Bool(true)})
	_, err = store.Save(ctx, "a", smaller)
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Entries)
	assert.Equal(t, int64(1000), list[0].CreatedAt.UnixMilli(), "creation time survives overwrite")
	assert.Equal(t, int64(2000), list[0].UpdatedAt.UnixMilli())
}

func TestSnapshotList(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	empty, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i, name := range []string{"old", "new"} {
		ts := int64(1000 * (i + 1))
		store.now = func() time.Time { return time.UnixMilli(ts) }
		_, err := store.Save(ctx, name, sampleUpdate())
		require.NoError(t, err)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Name)
	assert.Equal(t, "old", list[1].Name)
}

func TestSnapshotNotFound(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, "missing"), ErrNotFound))

	_, err = store.Save(ctx, "", sampleUpdate())
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSnapshotDelete(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, err := store.Save(ctx, "a", sampleUpdate())
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Load(ctx, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSnapshotDigestMismatch(t *testing.T) {
	store, db := newStore(t)
	ctx := context.Background()
	_, err := store.Save(ctx, "a", sampleUpdate())
	require.NoError(t, err)

	_, err = db.Exec("UPDATE snapshots SET digest = ? WHERE name = 'a'", codec.Sum([]byte("other")).String())
	require.NoError(t, err)

	_, err = store.Load(ctx, "a")
	assert.True(t, errors.Is(err, codec.ErrCorrupt), "got %v", err)
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestSnapshotRestore(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	src, _ := sttest.NewTree(t)
	sttest.Populate(t, src, map[string]st.Value{
		"profile/hostname": st.String("dev1"),
		"profile/port":     st.Int(22),
	})
	snap, err := src.Snapshot()
	require.NoError(t, err)
	_, err = store.Save(ctx, "tree", snap)
	require.NoError(t, err)

	dst, _ := sttest.NewTree(t)
	require.NoError(t, store.Restore(ctx, "tree", dst))
	assert.Equal(t, st.String("dev1"), dst.GetAttribute("profile", "hostname").Get())
	assert.Equal(t, st.Int(22), dst.GetAttribute("profile", "port").Get())
	assert.Equal(t, src.GetAttribute("profile", "port").Timestamp(), dst.GetAttribute("profile", "port").Timestamp())
}

func TestSnapshotStoreErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSnapshotStore(db, codec.JSON{}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO snapshots").WillReturnError(errors.New("disk I/O error"))
	_, err = store.Save(ctx, "a", sampleUpdate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save snapshot a")

	mock.ExpectQuery("SELECT codec, digest, data FROM snapshots").
		WithArgs("a").
		WillReturnError(sql.ErrConnDone)
	_, err = store.Load(ctx, "a")
	assert.True(t, errors.Is(err, sql.ErrConnDone))

	mock.ExpectQuery("SELECT codec, digest, data FROM snapshots").
		WithArgs("b").
		WillReturnRows(sqlmock.NewRows([]string{"codec", "digest", "data"}).AddRow("msgpack", "x", []byte("{}")))
	_, err = store.Load(ctx, "b")
	assert.True(t, errors.Is(err, codec.ErrUnknownCodec))

	mock.ExpectQuery("SELECT name, codec, digest").
		WillReturnRows(sqlmock.NewRows([]string{"name", "codec", "digest", "entries", "size", "created_at", "updated_at"}).
			AddRow("a", "json", "not-a-digest", 1, 10, 0, 0))
	_, err = store.List(ctx)
	assert.Error(t, err)

	mock.ExpectExec("DELETE FROM snapshots").
		WithArgs("a").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no rows affected info")))
	assert.Error(t, store.Delete(ctx, "a"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
