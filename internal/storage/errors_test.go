package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/olehkaliuzhnyi/certwallet/pkg/domainerrors"
)

func TestDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want dErrors.Code
	}{
		{"not found", fmt.Errorf("lookup: %w", ErrNotFound), dErrors.CodeNotFound},
		{"conflict", ErrConflict, dErrors.CodeConflict},
		{"out of range", fmt.Errorf("sum: %w", ErrOutOfRange), dErrors.CodeInternal},
		{"cancelled", context.Canceled, dErrors.CodeInternal},
		{"already coded", dErrors.New(dErrors.CodeInvalidArgument, "bad"), dErrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DomainError(tt.err, "wallet")
			require.Error(t, err)
			assert.Equal(t, tt.want, dErrors.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, DomainError(nil, "wallet"))
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	err := RetryOnConflict(func() error {
		calls++
		if calls == 1 {
			return dErrors.New(dErrors.CodeConflict, "raced")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = RetryOnConflict(func() error {
		calls++
		return dErrors.New(dErrors.CodeInvalidArgument, "bad")
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidArgument))
	assert.Equal(t, 1, calls)
}
