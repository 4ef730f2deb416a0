package errs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"evtcore.dev/errs"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := fmt.Errorf("etag mismatch")
	err := errs.Wrap(errs.ConcurrencyConflict, cause, "write rejected")

	assert.True(t, errs.Is(err, errs.ConcurrencyConflict))
	assert.False(t, errs.Is(err, errs.NotFound))
	assert.Equal(t, errs.ConcurrencyConflict, errs.KindOf(err))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, errs.Is(fmt.Errorf("boom"), errs.NotFound))
	assert.Equal(t, errs.Kind(""), errs.KindOf(fmt.Errorf("boom")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := errs.Wrap(errs.Transient, fmt.Errorf("timeout"), "put failed")
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "put failed")
	assert.Contains(t, err.Error(), string(errs.Transient))
}
