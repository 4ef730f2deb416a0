package widetable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

// postgresTableDDL creates the single generic EAV-style rows table this
// store keeps all partitions in, grounded on the teacher's pgx pool
// pattern in db/postgres_pgx.go but widened for version-column
// optimistic concurrency instead of row timestamps.
const postgresTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	partition_key TEXT NOT NULL,
	row_key       TEXT NOT NULL,
	version       BIGINT NOT NULL DEFAULT 1,
	columns       JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (partition_key, row_key)
)`

// PostgresStore implements Table over a single Postgres table addressed
// by name, using pgxpool for connection pooling (component B's primary
// cloud substrate; no ORM, direct SQL, per the teacher's PostgresDB).
type PostgresStore struct {
	pool     *pgxpool.Pool
	table    string
	verified *verifiedTables
	log      *common.ContextLogger
}

// NewPostgresStore opens a pgxpool against dsn and returns a Table
// backed by the named table.
func NewPostgresStore(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, err, "creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.Transient, err, "pinging postgres")
	}
	return &PostgresStore{
		pool:     pool,
		table:    table,
		verified: newVerifiedTables(),
		log:      common.NewContextLogger(common.Logger, map[string]interface{}{"component": "widetable.PostgresStore", "table": table}),
	}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) EnsureTable(ctx context.Context) error {
	if p.verified.has(p.table) {
		return nil
	}
	ddl := fmt.Sprintf(postgresTableDDL, pgx.Identifier{p.table}.Sanitize())
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return errs.Wrap(errs.Transient, err, "creating widetable table")
	}
	p.verified.markVerified(p.table)
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, partitionKey, rowKey string) (Row, error) {
	query := fmt.Sprintf(`SELECT version, columns FROM %s WHERE partition_key = $1 AND row_key = $2`, pgx.Identifier{p.table}.Sanitize())
	var version int64
	var raw []byte
	err := p.pool.QueryRow(ctx, query, partitionKey, rowKey).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
	}
	if err != nil {
		if isUndefinedTable(err) {
			return Row{}, errs.New(errs.TableNotFound, "widetable table not initialized")
		}
		return Row{}, errs.Wrap(errs.Transient, err, "reading row")
	}
	columns, err := unmarshalColumns(raw)
	if err != nil {
		return Row{}, err
	}
	return Row{PartitionKey: partitionKey, RowKey: rowKey, ETag: strconv.FormatInt(version, 10), Columns: columns}, nil
}

func (p *PostgresStore) Query(ctx context.Context, partitionKey, fromRowKey, toRowKey string, pageSize int, token string) (QueryPage, error) {
	start := fromRowKey
	if token != "" {
		start = token
	}

	args := []interface{}{partitionKey}
	where := "partition_key = $1"
	if start != "" {
		args = append(args, start)
		if token != "" {
			where += fmt.Sprintf(" AND row_key > $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND row_key >= $%d", len(args))
		}
	}
	if toRowKey != "" {
		args = append(args, toRowKey)
		where += fmt.Sprintf(" AND row_key <= $%d", len(args))
	}
	limit := pageSize
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT row_key, version, columns FROM %s WHERE %s ORDER BY row_key ASC LIMIT $%d`,
		pgx.Identifier{p.table}.Sanitize(), where, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return QueryPage{}, errs.New(errs.TableNotFound, "widetable table not initialized")
		}
		return QueryPage{}, errs.Wrap(errs.Transient, err, "querying rows")
	}
	defer rows.Close()

	var page QueryPage
	for rows.Next() {
		var rowKey string
		var version int64
		var raw []byte
		if err := rows.Scan(&rowKey, &version, &raw); err != nil {
			return QueryPage{}, errs.Wrap(errs.Transient, err, "scanning row")
		}
		columns, err := unmarshalColumns(raw)
		if err != nil {
			return QueryPage{}, err
		}
		page.Rows = append(page.Rows, Row{PartitionKey: partitionKey, RowKey: rowKey, ETag: strconv.FormatInt(version, 10), Columns: columns})
	}
	if err := rows.Err(); err != nil {
		return QueryPage{}, errs.Wrap(errs.Transient, err, "iterating rows")
	}
	if len(page.Rows) == limit {
		page.NextToken = page.Rows[len(page.Rows)-1].RowKey
	}
	return page, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, row Row, cond precondition.Precondition) (string, error) {
	raw, err := json.Marshal(row.Columns)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, err, "marshaling columns")
	}

	ident := pgx.Identifier{p.table}.Sanitize()
	switch cond.Kind() {
	case precondition.CreateOnly:
		query := fmt.Sprintf(`INSERT INTO %s (partition_key, row_key, version, columns) VALUES ($1, $2, 1, $3) ON CONFLICT DO NOTHING`, ident)
		tag, err := p.pool.Exec(ctx, query, row.PartitionKey, row.RowKey, raw)
		if err != nil {
			return "", wrapExecError(err)
		}
		if tag.RowsAffected() == 0 {
			return "", errs.Newf(errs.ConcurrencyConflict, "row %s/%s already exists", row.PartitionKey, row.RowKey)
		}
		return "1", nil

	case precondition.MatchVersion:
		wantVersion, err := strconv.ParseInt(cond.Version(), 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
		}
		query := fmt.Sprintf(`UPDATE %s SET version = version + 1, columns = $3 WHERE partition_key = $1 AND row_key = $2 AND version = $4`, ident)
		tag, err := p.pool.Exec(ctx, query, row.PartitionKey, row.RowKey, raw, wantVersion)
		if err != nil {
			return "", wrapExecError(err)
		}
		if tag.RowsAffected() == 0 {
			return "", errs.Newf(errs.ConcurrencyConflict, "version mismatch for %s/%s", row.PartitionKey, row.RowKey)
		}
		return strconv.FormatInt(wantVersion+1, 10), nil

	default:
		query := fmt.Sprintf(`
			INSERT INTO %s (partition_key, row_key, version, columns) VALUES ($1, $2, 1, $3)
			ON CONFLICT (partition_key, row_key) DO UPDATE SET version = %s.version + 1, columns = EXCLUDED.columns
			RETURNING version`, ident, ident)
		var version int64
		if err := p.pool.QueryRow(ctx, query, row.PartitionKey, row.RowKey, raw).Scan(&version); err != nil {
			return "", wrapExecError(err)
		}
		return strconv.FormatInt(version, 10), nil
	}
}

func (p *PostgresStore) Delete(ctx context.Context, partitionKey, rowKey string, cond precondition.Precondition) error {
	ident := pgx.Identifier{p.table}.Sanitize()
	args := []interface{}{partitionKey, rowKey}
	query := fmt.Sprintf(`DELETE FROM %s WHERE partition_key = $1 AND row_key = $2`, ident)
	if cond.Kind() == precondition.MatchVersion {
		wantVersion, err := strconv.ParseInt(cond.Version(), 10, 64)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
		}
		query += " AND version = $3"
		args = append(args, wantVersion)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapExecError(err)
	}
	if tag.RowsAffected() == 0 {
		if cond.Kind() == precondition.MatchVersion {
			return errs.Newf(errs.ConcurrencyConflict, "version mismatch deleting %s/%s", partitionKey, rowKey)
		}
		return errs.Newf(errs.NotFound, "row %s/%s", partitionKey, rowKey)
	}
	return nil
}

// SubmitBatch applies ops inside a single transaction, validating they
// all share one PartitionKey and number at most 100 (§4.G) before any
// statement runs, and rolls back entirely if any op's precondition
// fails partway through.
func (p *PostgresStore) SubmitBatch(ctx context.Context, ops []BatchOp) error {
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

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "beginning batch transaction")
	}
	defer tx.Rollback(ctx)

	ident := pgx.Identifier{p.table}.Sanitize()
	for _, op := range ops {
		raw, err := json.Marshal(op.Row.Columns)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, err, "marshaling columns")
		}
		switch op.Kind {
		case BatchInsert:
			query := fmt.Sprintf(`INSERT INTO %s (partition_key, row_key, version, columns) VALUES ($1, $2, 1, $3) ON CONFLICT DO NOTHING`, ident)
			tag, err := tx.Exec(ctx, query, op.Row.PartitionKey, op.Row.RowKey, raw)
			if err != nil {
				return wrapExecError(err)
			}
			if tag.RowsAffected() == 0 {
				return errs.Newf(errs.ConcurrencyConflict, "batch insert conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
			}

		case BatchReplace:
			if op.Cond.Kind() == precondition.MatchVersion {
				wantVersion, err := strconv.ParseInt(op.Cond.Version(), 10, 64)
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
				}
				query := fmt.Sprintf(`UPDATE %s SET version = version + 1, columns = $3 WHERE partition_key = $1 AND row_key = $2 AND version = $4`, ident)
				tag, err := tx.Exec(ctx, query, op.Row.PartitionKey, op.Row.RowKey, raw, wantVersion)
				if err != nil {
					return wrapExecError(err)
				}
				if tag.RowsAffected() == 0 {
					return errs.Newf(errs.ConcurrencyConflict, "batch version mismatch on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
				}
			} else {
				query := fmt.Sprintf(`
					INSERT INTO %s (partition_key, row_key, version, columns) VALUES ($1, $2, 1, $3)
					ON CONFLICT (partition_key, row_key) DO UPDATE SET version = %s.version + 1, columns = EXCLUDED.columns`, ident, ident)
				if _, err := tx.Exec(ctx, query, op.Row.PartitionKey, op.Row.RowKey, raw); err != nil {
					return wrapExecError(err)
				}
			}

		case BatchDelete:
			args := []interface{}{op.Row.PartitionKey, op.Row.RowKey}
			query := fmt.Sprintf(`DELETE FROM %s WHERE partition_key = $1 AND row_key = $2`, ident)
			if op.Cond.Kind() == precondition.MatchVersion {
				wantVersion, err := strconv.ParseInt(op.Cond.Version(), 10, 64)
				if err != nil {
					return errs.Wrap(errs.InvalidArgument, err, "parsing precondition version")
				}
				query += " AND version = $3"
				args = append(args, wantVersion)
			}
			tag, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return wrapExecError(err)
			}
			if tag.RowsAffected() == 0 {
				return errs.Newf(errs.ConcurrencyConflict, "batch delete conflict on %s/%s", op.Row.PartitionKey, op.Row.RowKey)
			}

		default:
			return errs.Newf(errs.InvalidArgument, "unknown batch op kind %d", op.Kind)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(errs.Transient, err, "committing batch transaction")
	}
	return nil
}

func (p *PostgresStore) Healthy(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return errs.Wrap(errs.Transient, err, "pinging postgres")
	}
	return nil
}

func unmarshalColumns(raw []byte) (map[string]interface{}, error) {
	columns := make(map[string]interface{})
	if len(raw) == 0 {
		return columns, nil
	}
	if err := json.Unmarshal(raw, &columns); err != nil {
		return nil, errs.Wrap(errs.CorruptPayload, err, "decoding row columns")
	}
	restoreBinaryColumns(columns)
	return columns, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}

func wrapExecError(err error) error {
	if isUndefinedTable(err) {
		return errs.New(errs.TableNotFound, "widetable table not initialized")
	}
	return errs.Wrap(errs.Transient, err, "executing statement")
}

var _ Table = (*PostgresStore)(nil)
