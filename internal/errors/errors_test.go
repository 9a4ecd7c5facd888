package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError_WrapsSentinel(t *testing.T) {
	err := NewUserError("read credentials", 42, ErrNotFound)

	assert.True(t, Is(err, ErrNotFound))
	assert.Equal(t, "user error [user=42, op=read credentials]: credential record not found", err.Error())

	wrapped := fmt.Errorf("start: %w", err)
	var uerr *UserError
	if assert.True(t, As(wrapped, &uerr)) {
		assert.Equal(t, int64(42), uerr.UserID)
		assert.Equal(t, "read credentials", uerr.Op)
	}
}

func TestValidationError_IsSentinel(t *testing.T) {
	err := NewValidationError("code", "must contain exactly 5 digits")

	assert.True(t, Is(err, ErrValidation))
	assert.True(t, IsValidation(fmt.Errorf("submit: %w", err)))
	assert.Contains(t, err.Error(), "field=code")
}

func TestSpawnError(t *testing.T) {
	cause := New("exec: \"python3\": executable file not found in $PATH")
	err := NewSpawnError(7, "python3", cause)

	assert.True(t, Is(err, ErrSpawn))
	assert.True(t, Is(err, cause))
	assert.Equal(t, "spawn error [user=7, command=python3]: "+cause.Error(), err.Error())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		userFacing bool
	}{
		{"nil", nil, false, false},
		{"not found", NewUserError("read", 1, ErrNotFound), true, true},
		{"no worker", fmt.Errorf("stop: %w", ErrNoActiveWorker), true, true},
		{"validation", NewValidationError("phone", "empty"), false, true},
		{"schema", fmt.Errorf("decode: %w", ErrSchema), false, false},
		{"shutting down", ErrShuttingDown, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.notFound, IsNotFound(tc.err))
			assert.Equal(t, tc.userFacing, IsUserFacing(tc.err))
		})
	}
}
