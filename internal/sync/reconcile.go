// Package sync reconciles a local working set of stored artifacts against a
// remote object store, tracking last-observed identity in the key_item_cache
// table.
//
// The classification itself is a pure function over two listings; the S3
// driver executes the resulting plan. The cache is a hint, not a lock:
// either store can change between observation and action, so every action
// re-verifies what it can and treats the rest as best-effort.
package sync

import "sort"

// Entry is one object identity in a listing: key plus change-detection
// metadata. ETag is an opaque content fingerprint (md5 hex for local files
// and non-multipart S3 objects).
type Entry struct {
	Key       string
	ETag      string
	Timestamp int64
	Size      int64
}

// Plan is the three-way classification produced by Reconcile. Update holds
// keys present on both sides whose content differs; the driver picks a
// direction per key.
type Plan struct {
	Download []string // remote only
	Upload   []string // local only
	Update   []string // both sides, etag mismatch
	Skip     []string // both sides, etag match
}

// Reconcile classifies keys by set difference over the two listings.
// Remote-only keys are download candidates, local-only keys upload
// candidates, keys on both sides skip when the etags match and update when
// they do not. Input order does not matter; each output slice is sorted by
// key.
func Reconcile(remote, local []Entry) Plan {
	r := sortedByKey(remote)
	l := sortedByKey(local)

	var p Plan
	i, j := 0, 0
	for i < len(r) && j < len(l) {
		switch {
		case r[i].Key < l[j].Key:
			p.Download = append(p.Download, r[i].Key)
			i++
		case r[i].Key > l[j].Key:
			p.Upload = append(p.Upload, l[j].Key)
			j++
		default:
			if r[i].ETag == l[j].ETag {
				p.Skip = append(p.Skip, r[i].Key)
			} else {
				p.Update = append(p.Update, r[i].Key)
			}
			i++
			j++
		}
	}
	for ; i < len(r); i++ {
		p.Download = append(p.Download, r[i].Key)
	}
	for ; j < len(l); j++ {
		p.Upload = append(p.Upload, l[j].Key)
	}
	return p
}

// NeedsSync reports whether a cached row disagrees with a freshly observed
// remote identity: presence flags out of step, or content changed under the
// same key.
func NeedsSync(hasLocal, hasRemote bool, cachedETag, observedETag string) bool {
	if hasLocal != hasRemote {
		return true
	}
	return cachedETag != observedETag
}

func sortedByKey(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
