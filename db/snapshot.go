package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
)

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	Name      string
	Codec     string
	Digest    codec.Digest
	Entries   int
	Size      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotStore keeps named snapshots of state trees in SQLite. Payloads are
// encoded with the store's codec inside a zstd frame.
type SnapshotStore struct {
	db     *sql.DB
	codec  codec.Codec
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewSnapshotStore returns a store over a migrated database. A nil codec
// means CBOR.
func NewSnapshotStore(db *sql.DB, c codec.Codec, log *zap.SugaredLogger) *SnapshotStore {
	if c == nil {
		c = codec.CBOR{}
	}
	if log == nil {
		log = logger.ComponentLogger("db")
	}
	return &SnapshotStore{db: db, codec: c, logger: log, now: time.Now}
}

// Save stores u under name, replacing any earlier snapshot of that name.
func (s *SnapshotStore) Save(ctx context.Context, name string, u st.Update) (SnapshotInfo, error) {
	if name == "" {
		return SnapshotInfo{}, errors.Wrap(errors.ErrInvalidRequest, "snapshot name is empty")
	}
	digest, err := codec.Hash(u)
	if err != nil {
		return SnapshotInfo{}, err
	}
	data, err := codec.Encode(s.codec, u, true)
	if err != nil {
		return SnapshotInfo{}, errors.Wrapf(err, "encode snapshot %s", name)
	}

	now := s.now().UTC()
	info := SnapshotInfo{
		Name:      name,
		Codec:     s.codec.Name(),
		Digest:    digest,
		Entries:   len(u.Changed),
		Size:      len(data),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, codec, digest, entries, size, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			codec = excluded.codec,
			digest = excluded.digest,
			entries = excluded.entries,
			size = excluded.size,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		info.Name, info.Codec, digest.String(), info.Entries, info.Size, data,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return SnapshotInfo{}, errors.Wrapf(markClosed(err), "save snapshot %s", name)
	}

	s.logger.Debugw("Saved snapshot",
		"name", name,
		logger.FieldDigest, digest.String(),
		logger.FieldCount, info.Entries,
		logger.FieldSize, info.Size,
	)
	return info, nil
}

// Load returns the snapshot stored under name. The decoded update is checked
// against the stored digest.
func (s *SnapshotStore) Load(ctx context.Context, name string) (st.Update, error) {
	var codecName, digestText string
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT codec, digest, data FROM snapshots WHERE name = ?", name,
	).Scan(&codecName, &digestText, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return st.Update{}, errors.Wrapf(ErrNotFound, "snapshot %s", name)
	}
	if err != nil {
		return st.Update{}, errors.Wrapf(err, "load snapshot %s", name)
	}

	c, err := codec.Lookup(codecName)
	if err != nil {
		return st.Update{}, errors.Wrapf(err, "snapshot %s", name)
	}
	u, err := codec.Decode(c, data)
	if err != nil {
		return st.Update{}, errors.Wrapf(err, "decode snapshot %s", name)
	}

	want, err := codec.ParseDigest(digestText)
	if err != nil {
		return st.Update{}, errors.Wrapf(err, "snapshot %s", name)
	}
	got, err := codec.Hash(u)
	if err != nil {
		return st.Update{}, err
	}
	if got != want {
		return st.Update{}, errors.Wrapf(ErrDigestMismatch, "snapshot %s digest is %s, stored %s", name, got, want)
	}
	return u, nil
}

// Restore merges the snapshot stored under name into doc.
func (s *SnapshotStore) Restore(ctx context.Context, name string, doc *st.Document) error {
	u, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	if err := doc.Merge(u.Within(doc.OID())); err != nil {
		return errors.Wrapf(err, "restore snapshot %s", name)
	}
	s.logger.Infow("Restored snapshot", "name", name, logger.FieldCount, len(u.Changed))
	return nil
}

// List describes every stored snapshot, most recently updated first.
func (s *SnapshotStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, codec, digest, entries, size, created_at, updated_at
		FROM snapshots
		ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var digestText string
		var created, updated int64
		if err := rows.Scan(&info.Name, &info.Codec, &digestText, &info.Entries, &info.Size, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "scan snapshot")
		}
		if info.Digest, err = codec.ParseDigest(digestText); err != nil {
			return nil, errors.Wrapf(err, "snapshot %s", info.Name)
		}
		info.CreatedAt = time.UnixMilli(created).UTC()
		info.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "list snapshots")
}

// Delete removes the snapshot stored under name.
func (s *SnapshotStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE name = ?", name)
	if err != nil {
		return errors.Wrapf(err, "delete snapshot %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "delete snapshot %s", name)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "snapshot %s", name)
	}
	return nil
}
