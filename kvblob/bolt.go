package kvblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

// boltBucket holds every object for this store; bbolt's own file lock
// plus per-transaction ACID semantics stand in for the "container" the
// cloud substrates require callers to create explicitly.
const boltBucket = "kvblob_objects"

// BoltStore implements Blob over a local go.etcd.io/bbolt database, for
// local development and unit tests that should not need live cloud
// credentials (grounded on the teacher's db/bolt package).
type BoltStore struct {
	db       *bolt.DB
	verified *verifiedContainers
	log      *common.ContextLogger
}

// OpenBoltStore opens (creating if absent) a bbolt-backed blob store at
// path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "opening bolt database")
	}
	return &BoltStore{
		db:       db,
		verified: newVerifiedContainers(),
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "kvblob.BoltStore"}),
	}, nil
}

// Close releases the underlying bbolt file handle.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func etagFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (b *BoltStore) EnsureContainer(_ context.Context) error {
	if b.verified.has(boltBucket) {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Transient, err, "creating bolt bucket")
	}
	b.verified.markVerified(boltBucket)
	return nil
}

func (b *BoltStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.GetProperties(ctx, path)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *BoltStore) GetProperties(_ context.Context, path string) (Properties, error) {
	var props Properties
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return errs.New(errs.ContainerNotFound, "kvblob container not initialized")
		}
		v := bkt.Get([]byte(path))
		if v == nil {
			return errs.Newf(errs.NotFound, "object %s", path)
		}
		props = Properties{ETag: etagFor(v), Size: int64(len(v))}
		return nil
	})
	return props, err
}

func (b *BoltStore) Read(_ context.Context, path string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return errs.New(errs.ContainerNotFound, "kvblob container not initialized")
		}
		v := bkt.Get([]byte(path))
		if v == nil {
			return errs.Newf(errs.NotFound, "object %s", path)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *BoltStore) Write(_ context.Context, path string, data []byte, cond precondition.Precondition) (Properties, error) {
	var props Properties
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return errs.New(errs.ContainerNotFound, "kvblob container not initialized")
		}
		existing := bkt.Get([]byte(path))
		switch cond.Kind() {
		case precondition.CreateOnly:
			if existing != nil {
				return errs.Newf(errs.ConcurrencyConflict, "object %s already exists", path)
			}
		case precondition.MatchVersion:
			if existing == nil || etagFor(existing) != cond.Version() {
				return errs.Newf(errs.ConcurrencyConflict, "etag mismatch for %s", path)
			}
		}
		if err := bkt.Put([]byte(path), data); err != nil {
			return errs.Wrap(errs.Transient, err, "bolt put")
		}
		props = Properties{ETag: etagFor(data), Size: int64(len(data))}
		return nil
	})
	return props, err
}

func (b *BoltStore) Delete(_ context.Context, path string, cond precondition.Precondition) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return errs.New(errs.ContainerNotFound, "kvblob container not initialized")
		}
		existing := bkt.Get([]byte(path))
		if existing == nil {
			return errs.Newf(errs.NotFound, "object %s", path)
		}
		if cond.Kind() == precondition.MatchVersion && etagFor(existing) != cond.Version() {
			return errs.Newf(errs.ConcurrencyConflict, "etag mismatch deleting %s", path)
		}
		return bkt.Delete([]byte(path))
	})
}

func (b *BoltStore) List(_ context.Context, prefix, token string, pageSize int) (Page, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltBucket))
		if bkt == nil {
			return errs.New(errs.ContainerNotFound, "kvblob container not initialized")
		}
		return bkt.ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return Page{}, err
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		for i, k := range keys {
			if k > token {
				start = i
				break
			}
		}
	}
	end := start + pageSize
	if pageSize <= 0 || end > len(keys) {
		end = len(keys)
	}
	page := Page{Items: keys[start:end]}
	if end < len(keys) {
		page.NextToken = keys[end-1]
	}
	return page, nil
}

func (b *BoltStore) SetTier(_ context.Context, _, _ string, _ bool) error {
	// Local development substrate has no storage tiers; accepted as a
	// no-op so callers do not need substrate-specific branches.
	return nil
}

func (b *BoltStore) Healthy(_ context.Context) error {
	return nil
}
