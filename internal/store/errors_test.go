package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                 {err: nil},
		"unrelated":           {err: errors.New("disk full")},
		"duplicate":           {err: ErrDuplicate},
		"sentinel":            {err: ErrNotFound, want: true},
		"task sentinel":       {err: ErrTaskNotFound, want: true},
		"wrapped task":        {err: fmt.Errorf("load %s: %w", "abc", ErrTaskNotFound), want: true},
		"store error wrapped": {err: NewStoreError("task", "delete", "no row", ErrNotFound), want: true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNotFoundError(tc.err))
		})
	}
}

func TestStoreErrorMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("disk full")
	err := NewStoreError("task", "save", "write history", inner)
	assert.Equal(t, "store save task: write history: disk full", err.Error())
	assert.ErrorIs(t, err, inner)

	bare := NewStoreError("task", "open", "decode history", nil)
	assert.Equal(t, "store open task: decode history", bare.Error())
	assert.Nil(t, errors.Unwrap(bare))
}
