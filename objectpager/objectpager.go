// Package objectpager implements paginated object-id enumeration
// (§4.J): listing the object ids stored under a given object name on
// either substrate, counting them, and point-existence checks.
package objectpager

import (
	"context"
	"fmt"
	"strings"

	"evtcore.dev/common"
	"evtcore.dev/errs"
	"evtcore.dev/kvblob"
	"evtcore.dev/widetable"
)

// Page is one page of object ids.
type Page struct {
	Items     []string
	PageSize  int
	NextToken string
}

// Pager is the object-id enumeration contract.
type Pager interface {
	GetObjectIds(ctx context.Context, objectName, continuationToken string, pageSize int) (Page, error)
	Count(ctx context.Context, objectName string) (int, error)
	Exists(ctx context.Context, objectName, objectID string) (bool, error)
}

// ForEach drives GetObjectIds to completion, invoking fn for every
// object id. It stops and returns fn's error the first time fn fails.
func ForEach(ctx context.Context, pager Pager, objectName string, pageSize int, fn func(objectID string) error) error {
	token := ""
	for {
		page, err := pager.GetObjectIds(ctx, objectName, token, pageSize)
		if err != nil {
			return err
		}
		for _, id := range page.Items {
			if err := fn(id); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// BlobPager enumerates objects at `{objectName}/{objectId}.json` on the
// KvBlob capability.
type BlobPager struct {
	blob kvblob.Blob
	log  *common.ContextLogger
}

// NewBlobPager returns a Pager backed by blob.
func NewBlobPager(blob kvblob.Blob) *BlobPager {
	return &BlobPager{
		blob: blob,
		log:  common.NewContextLogger(common.Logger, map[string]interface{}{"component": "objectpager.BlobPager"}),
	}
}

func objectIDFromPath(objectName, path string) (string, bool) {
	prefix := strings.ToLower(objectName) + "/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	name := strings.TrimSuffix(path[len(prefix):], ".json")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// GetObjectIds enumerates one native page of `{objectName}/…` blobs and
// extracts their object ids, dropping ids repeated within that page with
// a seen set (paged blob enumeration can surface the same key twice under
// concurrent writes). The set is built per call, so an id that reappears
// on a later page is returned again.
func (p *BlobPager) GetObjectIds(ctx context.Context, objectName, continuationToken string, pageSize int) (Page, error) {
	prefix := strings.ToLower(objectName) + "/"
	native, err := p.blob.List(ctx, prefix, continuationToken, pageSize)
	if err != nil {
		if errs.Is(err, errs.ContainerNotFound) {
			return Page{PageSize: pageSize}, nil
		}
		return Page{}, err
	}
	seen := make(map[string]struct{}, len(native.Items))
	items := make([]string, 0, len(native.Items))
	for _, path := range native.Items {
		id, ok := objectIDFromPath(objectName, path)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, id)
	}
	return Page{Items: items, PageSize: pageSize, NextToken: native.NextToken}, nil
}

// Count enumerates every page; it is expensive by construction and
// returns 0, not an error, if the container is missing.
func (p *BlobPager) Count(ctx context.Context, objectName string) (int, error) {
	count := 0
	err := ForEach(ctx, p, objectName, 1000, func(string) error {
		count++
		return nil
	})
	return count, err
}

// Exists performs a single point lookup.
func (p *BlobPager) Exists(ctx context.Context, objectName, objectID string) (bool, error) {
	path := fmt.Sprintf("%s/%s.json", strings.ToLower(objectName), objectID)
	return p.blob.Exists(ctx, path)
}

var _ Pager = (*BlobPager)(nil)

// TablePager enumerates rows at `partitionKey=objectName_lc` on the
// WideTable capability, reading only RowKey.
type TablePager struct {
	table widetable.Table
	log   *common.ContextLogger
}

// NewTablePager returns a Pager backed by table.
func NewTablePager(table widetable.Table) *TablePager {
	return &TablePager{
		table: table,
		log:   common.NewContextLogger(common.Logger, map[string]interface{}{"component": "objectpager.TablePager"}),
	}
}

func (p *TablePager) GetObjectIds(ctx context.Context, objectName, continuationToken string, pageSize int) (Page, error) {
	partitionKey := strings.ToLower(objectName)
	native, err := p.table.Query(ctx, partitionKey, "", "", pageSize, continuationToken)
	if err != nil {
		if errs.Is(err, errs.TableNotFound) {
			return Page{PageSize: pageSize}, nil
		}
		return Page{}, err
	}
	items := make([]string, 0, len(native.Rows))
	for _, row := range native.Rows {
		items = append(items, row.RowKey)
	}
	return Page{Items: items, PageSize: pageSize, NextToken: native.NextToken}, nil
}

func (p *TablePager) Count(ctx context.Context, objectName string) (int, error) {
	count := 0
	err := ForEach(ctx, p, objectName, 1000, func(string) error {
		count++
		return nil
	})
	return count, err
}

func (p *TablePager) Exists(ctx context.Context, objectName, objectID string) (bool, error) {
	_, err := p.table.Get(ctx, strings.ToLower(objectName), objectID)
	if err != nil {
		if errs.Is(err, errs.NotFound) || errs.Is(err, errs.TableNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ Pager = (*TablePager)(nil)
