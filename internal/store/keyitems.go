package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyItem is one key_item_cache row: last-observed identity and presence of
// a stored artifact. HasLocal and HasRemote are independent; a key known
// remotely but not yet fetched (or the inverse) is a valid transient state,
// not an error. The row is a hint, never a lock — the real stores can move
// underneath it, so sync actions re-verify before anything destructive.
type KeyItem struct {
	Key       string `json:"key"`
	ETag      string `json:"etag"`
	Timestamp int64  `json:"timestamp"`
	Size      int64  `json:"size"`
	HasLocal  bool   `json:"hasLocal"`
	HasRemote bool   `json:"hasRemote"`
}

const keyItemColumns = `s3_key, etag, s3_timestamp, s3_size, has_local, has_remote`

// GetKeyItem returns the row for key, or found=false when the key has never
// been observed. An absent row means "needs full sync", not failure.
func (s *Store) GetKeyItem(ctx context.Context, key string) (KeyItem, bool, error) {
	var k KeyItem
	found := false
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx,
			`SELECT `+keyItemColumns+` FROM key_item_cache WHERE s3_key = $1`, key).
			Scan(&k.Key, &k.ETag, &k.Timestamp, &k.Size, &k.HasLocal, &k.HasRemote)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return KeyItem{}, false, fmt.Errorf("get key item %q: %w", key, err)
	}
	return k, found, nil
}

// UpsertKeyItem writes the full row for k.Key in one atomic statement.
func (s *Store) UpsertKeyItem(ctx context.Context, k KeyItem) error {
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO key_item_cache (`+keyItemColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (s3_key) DO UPDATE SET
				etag = EXCLUDED.etag,
				s3_timestamp = EXCLUDED.s3_timestamp,
				s3_size = EXCLUDED.s3_size,
				has_local = EXCLUDED.has_local,
				has_remote = EXCLUDED.has_remote`,
			k.Key, k.ETag, k.Timestamp, k.Size, k.HasLocal, k.HasRemote)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert key item %q: %w", k.Key, err)
	}
	return nil
}

// RecordRemote marks key as present remotely and refreshes its
// change-detection metadata. A previously unknown key is created with
// has_local=false.
func (s *Store) RecordRemote(ctx context.Context, key, etag string, timestamp, size int64) error {
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO key_item_cache (`+keyItemColumns+`)
			 VALUES ($1,$2,$3,$4,false,true)
			 ON CONFLICT (s3_key) DO UPDATE SET
				etag = EXCLUDED.etag,
				s3_timestamp = EXCLUDED.s3_timestamp,
				s3_size = EXCLUDED.s3_size,
				has_remote = true`,
			key, etag, timestamp, size)
		return err
	})
	if err != nil {
		return fmt.Errorf("record remote %q: %w", key, err)
	}
	return nil
}

// RecordLocal marks key as present locally. A previously unknown key is
// created with has_remote=false and empty change-detection metadata.
func (s *Store) RecordLocal(ctx context.Context, key string) error {
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO key_item_cache (`+keyItemColumns+`)
			 VALUES ($1, '', 0, 0, true, false)
			 ON CONFLICT (s3_key) DO UPDATE SET has_local = true`,
			key)
		return err
	})
	if err != nil {
		return fmt.Errorf("record local %q: %w", key, err)
	}
	return nil
}

// ListKeyItems returns every row matching the given presence flags, ordered
// by key. The (true, false) and (false, true) combinations are the upload
// and download work lists.
func (s *Store) ListKeyItems(ctx context.Context, hasLocal, hasRemote bool) ([]KeyItem, error) {
	var out []KeyItem
	err := s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+keyItemColumns+` FROM key_item_cache
			 WHERE has_local = $1 AND has_remote = $2 ORDER BY s3_key`,
			hasLocal, hasRemote)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var k KeyItem
			if err := rows.Scan(&k.Key, &k.ETag, &k.Timestamp, &k.Size, &k.HasLocal, &k.HasRemote); err != nil {
				return err
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list key items: %w", err)
	}
	return out, nil
}
