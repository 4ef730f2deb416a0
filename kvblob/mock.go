package kvblob

import (
	"context"
	"sort"
	"strings"
	"sync"

	"evtcore.dev/errs"
	"evtcore.dev/precondition"
)

// Mock is an in-memory Blob for unit tests that check which methods were
// called and inject failures, in the style of the teacher's
// storage.MockS3Client.
type Mock struct {
	mu sync.Mutex

	objects map[string][]byte

	// Err, when set, is returned by every method call below instead of
	// performing the operation.
	Err error

	ExistsCalled        bool
	GetPropertiesCalled bool
	ReadCalled          bool
	WriteCalled         bool
	DeleteCalled        bool
	ListCalled          bool

	LastPath string
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{objects: make(map[string][]byte)}
}

func (m *Mock) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExistsCalled = true
	m.LastPath = path
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.objects[path]
	return ok, nil
}

func (m *Mock) GetProperties(_ context.Context, path string) (Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetPropertiesCalled = true
	m.LastPath = path
	if m.Err != nil {
		return Properties{}, m.Err
	}
	v, ok := m.objects[path]
	if !ok {
		return Properties{}, errs.Newf(errs.NotFound, "object %s", path)
	}
	return Properties{ETag: etagFor(v), Size: int64(len(v))}, nil
}

func (m *Mock) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalled = true
	m.LastPath = path
	if m.Err != nil {
		return nil, m.Err
	}
	v, ok := m.objects[path]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "object %s", path)
	}
	return append([]byte(nil), v...), nil
}

func (m *Mock) Write(_ context.Context, path string, data []byte, cond precondition.Precondition) (Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalled = true
	m.LastPath = path
	if m.Err != nil {
		return Properties{}, m.Err
	}
	existing, exists := m.objects[path]
	switch cond.Kind() {
	case precondition.CreateOnly:
		if exists {
			return Properties{}, errs.Newf(errs.ConcurrencyConflict, "object %s already exists", path)
		}
	case precondition.MatchVersion:
		if !exists || etagFor(existing) != cond.Version() {
			return Properties{}, errs.Newf(errs.ConcurrencyConflict, "etag mismatch for %s", path)
		}
	}
	m.objects[path] = append([]byte(nil), data...)
	return Properties{ETag: etagFor(data), Size: int64(len(data))}, nil
}

func (m *Mock) Delete(_ context.Context, path string, cond precondition.Precondition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalled = true
	m.LastPath = path
	if m.Err != nil {
		return m.Err
	}
	existing, exists := m.objects[path]
	if !exists {
		return errs.Newf(errs.NotFound, "object %s", path)
	}
	if cond.Kind() == precondition.MatchVersion && etagFor(existing) != cond.Version() {
		return errs.Newf(errs.ConcurrencyConflict, "etag mismatch deleting %s", path)
	}
	delete(m.objects, path)
	return nil
}

func (m *Mock) List(_ context.Context, prefix, token string, pageSize int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalled = true
	if m.Err != nil {
		return Page{}, m.Err
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
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

func (m *Mock) SetTier(_ context.Context, _, _ string, _ bool) error {
	return m.Err
}

func (m *Mock) EnsureContainer(_ context.Context) error {
	return m.Err
}

func (m *Mock) Healthy(_ context.Context) error {
	return m.Err
}

var _ Blob = (*Mock)(nil)
var _ Blob = (*BoltStore)(nil)
var _ Blob = (*S3Store)(nil)
