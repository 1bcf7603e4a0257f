package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/weathervane/weather-api-service/internal/observability"
	"github.com/weathervane/weather-api-service/internal/store"
)

// SyncCache is the persistence surface the syncer needs. *store.Store
// implements it; tests substitute a fake.
type SyncCache interface {
	GetKeyItem(ctx context.Context, key string) (store.KeyItem, bool, error)
	UpsertKeyItem(ctx context.Context, k store.KeyItem) error
	RecordRemote(ctx context.Context, key, etag string, timestamp, size int64) error
	RecordLocal(ctx context.Context, key string) error
}

// Syncer reconciles a local directory against an S3 bucket, recording
// last-observed state in the key_item_cache table as it goes.
type Syncer struct {
	store  SyncCache
	remote ObjectStore
	logger *zap.Logger
}

// Result summarizes one sync pass.
type Result struct {
	RemoteKeys int `json:"remoteKeys"`
	LocalFiles int `json:"localFiles"`
	Downloaded int `json:"downloaded"`
	Uploaded   int `json:"uploaded"`
	Skipped    int `json:"skipped"`
}

// NewSyncer creates a Syncer.
func NewSyncer(st SyncCache, remote ObjectStore, logger *zap.Logger) *Syncer {
	return &Syncer{store: st, remote: remote, logger: logger}
}

// SyncDir brings localDir and bucket into agreement: remote-only keys are
// downloaded, local-only files uploaded, and keys with mismatched etags
// resolved in favor of the newer side. Every action updates the sync cache
// row for its key. Actions are best-effort; a failure on one key is logged
// and does not abort the pass.
func (s *Syncer) SyncDir(ctx context.Context, localDir, bucket string) (Result, error) {
	local, err := s.scanLocal(ctx, localDir)
	if err != nil {
		return Result{}, err
	}
	remote, err := s.scanRemote(ctx, bucket)
	if err != nil {
		return Result{}, err
	}

	plan := Reconcile(remote, local)
	res := Result{
		RemoteKeys: len(remote),
		LocalFiles: len(local),
		Skipped:    len(plan.Skip),
	}
	observability.SyncActionsTotal.WithLabelValues("download").Add(float64(len(plan.Download)))
	observability.SyncActionsTotal.WithLabelValues("upload").Add(float64(len(plan.Upload)))
	observability.SyncActionsTotal.WithLabelValues("update").Add(float64(len(plan.Update)))
	observability.SyncActionsTotal.WithLabelValues("skip").Add(float64(len(plan.Skip)))

	remoteByKey := make(map[string]Entry, len(remote))
	for _, e := range remote {
		remoteByKey[e.Key] = e
	}
	localByKey := make(map[string]Entry, len(local))
	for _, e := range local {
		localByKey[e.Key] = e
	}

	for _, key := range plan.Download {
		if err := s.download(ctx, bucket, localDir, remoteByKey[key]); err != nil {
			s.logger.Warn("sync download failed", zap.String("key", key), zap.Error(err))
			continue
		}
		res.Downloaded++
	}
	for _, key := range plan.Upload {
		if err := s.upload(ctx, bucket, localDir, localByKey[key]); err != nil {
			s.logger.Warn("sync upload failed", zap.String("key", key), zap.Error(err))
			continue
		}
		res.Uploaded++
	}
	for _, key := range plan.Update {
		// Content differs on both sides; the newer timestamp wins.
		if remoteByKey[key].Timestamp >= localByKey[key].Timestamp {
			if err := s.download(ctx, bucket, localDir, remoteByKey[key]); err != nil {
				s.logger.Warn("sync download failed", zap.String("key", key), zap.Error(err))
				continue
			}
			res.Downloaded++
		} else {
			if err := s.upload(ctx, bucket, localDir, localByKey[key]); err != nil {
				s.logger.Warn("sync upload failed", zap.String("key", key), zap.Error(err))
				continue
			}
			res.Uploaded++
		}
	}
	for _, key := range plan.Skip {
		e := remoteByKey[key]
		k := store.KeyItem{
			Key: key, ETag: e.ETag, Timestamp: e.Timestamp, Size: e.Size,
			HasLocal: true, HasRemote: true,
		}
		if err := s.store.UpsertKeyItem(ctx, k); err != nil {
			s.logger.Warn("sync cache update failed", zap.String("key", key), zap.Error(err))
		}
	}

	s.logger.Info("sync pass complete",
		zap.String("bucket", bucket),
		zap.Int("remote_keys", res.RemoteKeys),
		zap.Int("local_files", res.LocalFiles),
		zap.Int("downloaded", res.Downloaded),
		zap.Int("uploaded", res.Uploaded),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// scanLocal lists localDir as sync entries with md5 etags and records each
// file's local presence in the sync cache. Etags are only recomputed when
// the cached row's timestamp or size no longer matches the file.
func (s *Syncer) scanLocal(ctx context.Context, localDir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("read local dir %s: %w", localDir, err)
	}

	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		e := Entry{
			Key:       de.Name(),
			Timestamp: info.ModTime().Unix(),
			Size:      info.Size(),
		}

		cached, found, err := s.store.GetKeyItem(ctx, e.Key)
		if err != nil {
			return nil, err
		}
		if found && cached.ETag != "" && cached.Timestamp == e.Timestamp && cached.Size == e.Size {
			e.ETag = cached.ETag
		} else {
			etag, err := fileMD5(filepath.Join(localDir, de.Name()))
			if err != nil {
				return nil, err
			}
			e.ETag = etag
		}
		if err := s.store.RecordLocal(ctx, e.Key); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// scanRemote lists the bucket and records each key's remote presence and
// metadata in the sync cache.
func (s *Syncer) scanRemote(ctx context.Context, bucket string) ([]Entry, error) {
	remote, err := s.remote.List(ctx, bucket)
	if err != nil {
		return nil, err
	}
	for _, e := range remote {
		if err := s.store.RecordRemote(ctx, e.Key, e.ETag, e.Timestamp, e.Size); err != nil {
			return nil, err
		}
	}
	return remote, nil
}

func (s *Syncer) download(ctx context.Context, bucket, localDir string, e Entry) error {
	etag, err := s.remote.Download(ctx, bucket, e.Key, filepath.Join(localDir, e.Key))
	if err != nil {
		return err
	}
	return s.store.UpsertKeyItem(ctx, store.KeyItem{
		Key: e.Key, ETag: etag, Timestamp: e.Timestamp, Size: e.Size,
		HasLocal: true, HasRemote: true,
	})
}

func (s *Syncer) upload(ctx context.Context, bucket, localDir string, e Entry) error {
	etag, err := s.remote.Upload(ctx, bucket, e.Key, filepath.Join(localDir, e.Key))
	if err != nil {
		return err
	}
	return s.store.UpsertKeyItem(ctx, store.KeyItem{
		Key: e.Key, ETag: etag, Timestamp: e.Timestamp, Size: e.Size,
		HasLocal: true, HasRemote: true,
	})
}
