package widetable

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

// boltRootBucket holds one nested bucket per partition key; bbolt's
// byte-ordered keys within a partition give Query its range-scan order
// for free, the same trick the teacher's db/bolt package relies on for
// prefix iteration.
const boltRootBucket = "widetable_rows"

type boltRow struct {
	Version int64                  `json:"version"`
	Columns map[string]interface{} `json:"columns"`
}

// BoltStore implements Table over a local go.etcd.io/bbolt database, the
// development and test substrate paired with kvblob.BoltStore.
type BoltStore struct {
	db       *bolt.DB
	verified *verifiedTables
	log      *common.ContextLogger
}

// OpenBoltStore opens (creating if absent) a bbolt-backed wide-table
// store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "opening bolt database")
	}
	return &BoltStore{
		db:       db,
		verified: newVerifiedTables(),
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "widetable.BoltStore"}),
	}, nil
}

// Close releases the underlying bbolt file handle.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) EnsureTable(_ context.Context) error {
	if b.verified.has(boltRootBucket) {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltRootBucket))
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Transient, err, "creating bolt root bucket")
	}
	b.verified.markVerified(boltRootBucket)
	return nil
}

func (b *BoltStore) partitionBucket(tx *bolt.Tx, partitionKey string, create bool) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(boltRootBucket))
	if root == nil {
		return nil, errs.New(errs.TableNotFound, "widetable table not initialized")
	}
	if create {
		return root.CreateBucketIfNotExists([]byte(partitionKey))
	}
	return root.Bucket([]byte(partitionKey)), nil
}

func (b *BoltStore) Get(_ context.Context, partitionKey, rowKey string) (Row, error) {
	var row Row
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt, err := b.partitionBucket(tx, partitionKey, false)
		if err != nil {
			return err
		}
		if bkt == nil {
			return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
		}
		v := bkt.Get([]byte(rowKey))
		if v == nil {
			return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
		}
		decoded, err := decodeBoltRow(v)
		if err != nil {
			return err
		}
		row = Row{PartitionKey: partitionKey, RowKey: rowKey, ETag: strconv.FormatInt(decoded.Version, 10), Columns: decoded.Columns}
		return nil
	})
	return row, err
}

func (b *BoltStore) Query(_ context.Context, partitionKey, fromRowKey, toRowKey string, pageSize int, token string) (QueryPage, error) {
	var page QueryPage
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt, err := b.partitionBucket(tx, partitionKey, false)
		if err != nil {
			return err
		}
		if bkt == nil {
			return nil
		}

		start := fromRowKey
		exclusive := false
		if token != "" {
			start = token
			exclusive = true
		}

		limit := pageSize
		if limit <= 0 {
			limit = 1000
		}

		c := bkt.Cursor()
		var k, v []byte
		if start == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(start))
		}
		for ; k != nil; k, v = c.Next() {
			key := string(k)
			if exclusive && key == start {
				continue
			}
			if toRowKey != "" && key > toRowKey {
				break
			}
			decoded, err := decodeBoltRow(v)
			if err != nil {
				return err
			}
			page.Rows = append(page.Rows, Row{PartitionKey: partitionKey, RowKey: key, ETag: strconv.FormatInt(decoded.Version, 10), Columns: decoded.Columns})
			if len(page.Rows) == limit {
				next, _ := c.Next()
				if next != nil && (toRowKey == "" || string(next) <= toRowKey) {
					page.NextToken = key
				}
				break
			}
		}
		return nil
	})
	return page, err
}

func (b *BoltStore) Upsert(_ context.Context, row Row, cond precondition.Precondition) (string, error) {
	var etag string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := b.partitionBucket(tx, row.PartitionKey, true)
		if err != nil {
			return errs.Wrap(errs.Transient, err, "opening partition bucket")
		}
		existing := bkt.Get([]byte(row.RowKey))
		var currentVersion int64
		if existing != nil {
			decoded, err := decodeBoltRow(existing)
			if err != nil {
				return err
			}
			currentVersion = decoded.Version
		}

		switch cond.Kind() {
		case precondition.CreateOnly:
			if existing != nil {
				return errs.Newf(errs.ConcurrencyConflict, "row %s/%s already exists", row.PartitionKey, row.RowKey)
			}
		case precondition.MatchVersion:
			wantVersion, perr := strconv.ParseInt(cond.Version(), 10, 64)
			if perr != nil {
				return errs.Wrap(errs.InvalidArgument, perr, "parsing precondition version")
			}
			if existing == nil || currentVersion != wantVersion {
				return errs.Newf(errs.ConcurrencyConflict, "version mismatch for %s/%s", row.PartitionKey, row.RowKey)
			}
		}

		newVersion := currentVersion + 1
		encoded, err := json.Marshal(boltRow{Version: newVersion, Columns: row.Columns})
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, err, "marshaling row")
		}
		if err := bkt.Put([]byte(row.RowKey), encoded); err != nil {
			return errs.Wrap(errs.Transient, err, "bolt put")
		}
		etag = strconv.FormatInt(newVersion, 10)
		return nil
	})
	return etag, err
}

func (b *BoltStore) Delete(_ context.Context, partitionKey, rowKey string, cond precondition.Precondition) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := b.partitionBucket(tx, partitionKey, false)
		if err != nil {
			return err
		}
		if bkt == nil {
			return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
		}
		existing := bkt.Get([]byte(rowKey))
		if existing == nil {
			return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
		}
		if cond.Kind() == precondition.MatchVersion {
			decoded, err := decodeBoltRow(existing)
			if err != nil {
				return err
			}
			wantVersion, perr := strconv.ParseInt(cond.Version(), 10, 64)
			if perr != nil {
				return errs.Wrap(errs.InvalidArgument, perr, "parsing precondition version")
			}
			if decoded.Version != wantVersion {
				return errs.Newf(errs.ConcurrencyConflict, "version mismatch deleting %s/%s", partitionKey, rowKey)
			}
		}
		return bkt.Delete([]byte(rowKey))
	})
}

// SubmitBatch applies ops to one bbolt transaction, all-or-nothing.
func (b *BoltStore) SubmitBatch(_ context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > 100 {
		return errs.Newf(errs.InvalidArgument, "batch of %d ops exceeds the 100-op limit", len(ops))
	}
	partitionKey := ops[0].Row.PartitionKey
	for _, op := range ops {
		if op.Row.PartitionKey != partitionKey {
			return errs.New(errs.InvalidArgument, "batch ops must share one partition key")
		}
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := b.partitionBucket(tx, partitionKey, true)
		if err != nil {
			return errs.Wrap(errs.Transient, err, "opening partition bucket")
		}
		for _, op := range ops {
			existing := bkt.Get([]byte(op.Row.RowKey))
			var currentVersion int64
			if existing != nil {
				decoded, err := decodeBoltRow(existing)
				if err != nil {
					return err
				}
				currentVersion = decoded.Version
			}
			switch op.Kind {
			case BatchInsert:
				if existing != nil {
					return errs.Newf(errs.ConcurrencyConflict, "batch insert conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
				}
				encoded, err := json.Marshal(boltRow{Version: 1, Columns: op.Row.Columns})
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "marshaling row")
				}
				if err := bkt.Put([]byte(op.Row.RowKey), encoded); err != nil {
					return errs.Wrap(errs.Transient, err, "bolt put")
				}

			case BatchReplace:
				if op.Cond.Kind() == precondition.MatchVersion {
					wantVersion, perr := strconv.ParseInt(op.Cond.Version(), 10, 64)
					if perr != nil {
						return errs.Wrap(errs.InvalidArgument, perr, "parsing precondition version")
					}
					if existing == nil || currentVersion != wantVersion {
						return errs.Newf(errs.ConcurrencyConflict, "batch version mismatch on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
					}
				}
				encoded, err := json.Marshal(boltRow{Version: currentVersion + 1, Columns: op.Row.Columns})
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "marshaling row")
				}
				if err := bkt.Put([]byte(op.Row.RowKey), encoded); err != nil {
					return errs.Wrap(errs.Transient, err, "bolt put")
				}

			case BatchDelete:
				if existing == nil {
					return errs.Newf(errs.ConcurrencyConflict, "batch delete conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
				}
				if op.Cond.Kind() == precondition.MatchVersion {
					wantVersion, perr := strconv.ParseInt(op.Cond.Version(), 10, 64)
					if perr != nil {
						return errs.Wrap(errs.InvalidArgument, perr, "parsing precondition version")
					}
					if currentVersion != wantVersion {
						return errs.Newf(errs.ConcurrencyConflict, "batch version mismatch deleting %s/%s", op.Row.PartitionKey, op.Row.RowKey)
					}
				}
				if err := bkt.Delete([]byte(op.Row.RowKey)); err != nil {
					return errs.Wrap(errs.Transient, err, "bolt delete")
				}

			default:
				return errs.Newf(errs.InvalidArgument, "unknown batch op kind %d", op.Kind)
			}
		}
		return nil
	})
}

func (b *BoltStore) Healthy(_ context.Context) error {
	return nil
}

func decodeBoltRow(raw []byte) (boltRow, error) {
	var decoded boltRow
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return boltRow{}, errs.Wrap(errs.CorruptPayload, err, "decoding row")
	}
	if decoded.Columns == nil {
		decoded.Columns = make(map[string]interface{})
	}
	restoreBinaryColumns(decoded.Columns)
	return decoded, nil
}

var _ Table = (*BoltStore)(nil)
