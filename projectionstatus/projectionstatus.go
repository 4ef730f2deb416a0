// Package projectionstatus implements the rebuild coordinator state
// machine (§4.L): per (projectionName, objectId) status tracking through
// Active/Rebuilding/CatchingUp/Ready/Disabled/Failed, guarded by a
// leased, opaque rebuild token and ETag/version preconditions.
package projectionstatus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/internal/clock"
	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// Status is one of the coordinator's state-machine states.
type Status string

const (
	Active      Status = "Active"
	Rebuilding  Status = "Rebuilding"
	CatchingUp  Status = "CatchingUp"
	Ready       Status = "Ready"
	Disabled    Status = "Disabled"
	Failed      Status = "Failed"
)

// RebuildToken is the opaque lease StartRebuild hands back to the caller;
// every subsequent transition on the same rebuild must present it.
type RebuildToken struct {
	Token     string    `json:"token"`
	ExpiresTs time.Time `json:"expiresTs"`
}

func (t RebuildToken) isExpired(now time.Time) bool {
	return now.After(t.ExpiresTs)
}

// RebuildInfo carries the provenance of an in-flight or terminated
// rebuild.
type RebuildInfo struct {
	Strategy  string    `json:"strategy"`
	StartedTs time.Time `json:"startedTs"`
	Error     string    `json:"error,omitempty"`
}

// Record is one projection's status for one object id.
type Record struct {
	ProjectionName string       `json:"projectionName"`
	ObjectID       string       `json:"objectId"`
	Status         Status       `json:"status"`
	RebuildInfo    *RebuildInfo `json:"rebuildInfo,omitempty"`
	ActiveToken    *RebuildToken `json:"activeToken,omitempty"`
	UpdatedTs      time.Time    `json:"updatedTs"`
	version        string
}

// Coordinator is the projection-status public contract (§4.L).
type Coordinator interface {
	StartRebuild(ctx context.Context, projectionName, objectID, strategy string, timeout time.Duration) (RebuildToken, error)
	StartCatchUp(ctx context.Context, projectionName, objectID string, token RebuildToken) error
	MarkReady(ctx context.Context, projectionName, objectID string, token RebuildToken) error
	CompleteRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken) error
	CancelRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken, rebuildErr string) error
	Disable(ctx context.Context, projectionName, objectID string) error
	Enable(ctx context.Context, projectionName, objectID string) error
	GetStatus(ctx context.Context, projectionName, objectID string) (Record, error)
	GetByStatus(ctx context.Context, projectionName string, status Status) ([]Record, error)
	RecoverStuckRebuilds(ctx context.Context, projectionName string) (int, error)
	Healthy(ctx context.Context) error
}

// TableCoordinator implements Coordinator over the WideTable capability:
// `partitionKey=projectionName`, `rowKey=objectId`.
type TableCoordinator struct {
	table widetable.Table
	clock clock.Clock
	log   *common.ContextLogger
}

// NewTableCoordinator returns a Coordinator backed by table.
func NewTableCoordinator(table widetable.Table, clk clock.Clock) *TableCoordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TableCoordinator{
		table: table,
		clock: clk,
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "projectionstatus.TableCoordinator"}),
	}
}

func (c *TableCoordinator) load(ctx context.Context, projectionName, objectID string) (Record, error) {
	row, err := c.table.Get(ctx, projectionName, objectID)
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(row), nil
}

func (c *TableCoordinator) write(ctx context.Context, rec Record, cond precondition.Precondition) error {
	row := encodeRecord(rec)
	_, err := c.table.Upsert(ctx, row, cond)
	return err
}

// StartRebuild unconditionally writes a Rebuilding record carrying a
// fresh token; concurrent StartRebuild calls race and only the
// last-writer's token survives, which is acceptable because the loser's
// token will simply fail subsequent token validation (§4.L).
func (c *TableCoordinator) StartRebuild(ctx context.Context, projectionName, objectID, strategy string, timeout time.Duration) (RebuildToken, error) {
	if err := c.table.EnsureTable(ctx); err != nil {
		return RebuildToken{}, err
	}
	now := c.clock.Now()
	token := RebuildToken{Token: uuid.NewString(), ExpiresTs: now.Add(timeout)}
	rec := Record{
		ProjectionName: projectionName,
		ObjectID:       objectID,
		Status:         Rebuilding,
		RebuildInfo:    &RebuildInfo{Strategy: strategy, StartedTs: now},
		ActiveToken:    &token,
		UpdatedTs:      now,
	}
	if err := c.write(ctx, rec, precondition.Unconditional()); err != nil {
		return RebuildToken{}, err
	}
	return token, nil
}

// transition loads the current record, validates token against it, calls
// mutate to produce the next record, and writes it back under the
// loaded version. The caller's token is revalidated against the loaded
// record, not against what mutate produces.
func (c *TableCoordinator) transition(ctx context.Context, projectionName, objectID string, token RebuildToken, mutate func(cur Record, now time.Time) Record) error {
	cur, err := c.load(ctx, projectionName, objectID)
	if err != nil {
		return err
	}
	if err := c.validateToken(cur, token); err != nil {
		return err
	}
	now := c.clock.Now()
	next := mutate(cur, now)
	next.version = cur.version
	if err := c.write(ctx, next, precondition.IfMatch(cur.version)); err != nil {
		return err
	}
	return nil
}

func (c *TableCoordinator) validateToken(rec Record, token RebuildToken) error {
	if rec.ActiveToken == nil || rec.ActiveToken.Token != token.Token {
		return errs.New(errs.InvalidToken, "rebuild token does not match the active lease")
	}
	if rec.ActiveToken.isExpired(c.clock.Now()) {
		return errs.New(errs.InvalidToken, "rebuild token lease has expired")
	}
	return nil
}

func (c *TableCoordinator) StartCatchUp(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	return c.transition(ctx, projectionName, objectID, token, func(cur Record, now time.Time) Record {
		cur.Status = CatchingUp
		cur.UpdatedTs = now
		return cur
	})
}

func (c *TableCoordinator) MarkReady(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	return c.transition(ctx, projectionName, objectID, token, func(cur Record, now time.Time) Record {
		cur.Status = Ready
		cur.UpdatedTs = now
		return cur
	})
}

// CompleteRebuild clears the active token and returns the record to
// Active (§4.L).
func (c *TableCoordinator) CompleteRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken) error {
	return c.transition(ctx, projectionName, objectID, token, func(cur Record, now time.Time) Record {
		cur.Status = Active
		cur.ActiveToken = nil
		cur.RebuildInfo = nil
		cur.UpdatedTs = now
		return cur
	})
}

// CancelRebuild clears the active token and moves to Failed if rebuildErr
// is non-empty, else back to Active.
func (c *TableCoordinator) CancelRebuild(ctx context.Context, projectionName, objectID string, token RebuildToken, rebuildErr string) error {
	return c.transition(ctx, projectionName, objectID, token, func(cur Record, now time.Time) Record {
		cur.ActiveToken = nil
		cur.UpdatedTs = now
		if rebuildErr != "" {
			cur.Status = Failed
			cur.RebuildInfo = &RebuildInfo{Error: rebuildErr}
		} else {
			cur.Status = Active
			cur.RebuildInfo = nil
		}
		return cur
	})
}

// Disable and Enable load the record and write it back under a CAS on
// its version, or unconditionally when no record exists yet (§4.L). There
// is no retry loop: a contested write surfaces ConcurrencyConflict for the
// caller to retry.
func (c *TableCoordinator) Disable(ctx context.Context, projectionName, objectID string) error {
	return c.setStatusUnconditional(ctx, projectionName, objectID, Disabled)
}

func (c *TableCoordinator) Enable(ctx context.Context, projectionName, objectID string) error {
	return c.setStatusUnconditional(ctx, projectionName, objectID, Active)
}

func (c *TableCoordinator) setStatusUnconditional(ctx context.Context, projectionName, objectID string, status Status) error {
	if err := c.table.EnsureTable(ctx); err != nil {
		return err
	}
	cur, err := c.load(ctx, projectionName, objectID)
	cond := precondition.Unconditional()
	if err != nil {
		if !errs.Is(err, errs.NotFound) {
			return err
		}
		cur = Record{ProjectionName: projectionName, ObjectID: objectID}
	} else {
		cond = precondition.IfMatch(cur.version)
	}
	cur.Status = status
	cur.UpdatedTs = c.clock.Now()
	return c.write(ctx, cur, cond)
}

func (c *TableCoordinator) GetStatus(ctx context.Context, projectionName, objectID string) (Record, error) {
	return c.load(ctx, projectionName, objectID)
}

func (c *TableCoordinator) GetByStatus(ctx context.Context, projectionName string, status Status) ([]Record, error) {
	var matches []Record
	token := ""
	for {
		page, err := c.table.Query(ctx, projectionName, "", "", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, row := range page.Rows {
			rec := decodeRecord(row)
			if rec.Status == status {
				matches = append(matches, rec)
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return matches, nil
}

// RecoverStuckRebuilds scans projectionName's records for an expired
// token while in Rebuilding or CatchingUp, and promotes them to Failed.
// A precondition failure on any one record means another recoverer won
// that record; it is skipped, not an error for the scan as a whole.
func (c *TableCoordinator) RecoverStuckRebuilds(ctx context.Context, projectionName string) (int, error) {
	recovered := 0
	token := ""
	now := c.clock.Now()
	for {
		page, err := c.table.Query(ctx, projectionName, "", "", 1000, token)
		if err != nil {
			if errs.Is(err, errs.TableNotFound) {
				return 0, nil
			}
			return recovered, err
		}
		for _, row := range page.Rows {
			rec := decodeRecord(row)
			if rec.Status != Rebuilding && rec.Status != CatchingUp {
				continue
			}
			if rec.ActiveToken == nil || !rec.ActiveToken.isExpired(now) {
				continue
			}
			rec.Status = Failed
			rec.ActiveToken = nil
			rec.RebuildInfo = &RebuildInfo{Error: "Rebuild timed out"}
			rec.UpdatedTs = now
			if err := c.write(ctx, rec, precondition.IfMatch(row.ETag)); err != nil {
				if errs.Is(err, errs.ConcurrencyConflict) {
					continue
				}
				return recovered, err
			}
			recovered++
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return recovered, nil
}

func (c *TableCoordinator) Healthy(ctx context.Context) error {
	return c.table.Healthy(ctx)
}

var _ Coordinator = (*TableCoordinator)(nil)
