package odmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		is    func(error) bool
		kind  error
		wants string
	}{
		{"configuration", Configuration("AddDiscriminatorConvention", "type %s", "Dog"), IsConfiguration, ErrConfiguration, "AddDiscriminatorConvention: configuration error: type Dog"},
		{"argument", Argument("Migrate", "negative interval"), IsArgument, ErrArgument, "Migrate: invalid argument: negative interval"},
		{"invalid state", InvalidState("Register", "frozen"), IsInvalidState, ErrInvalidState, "Register: invalid state: frozen"},
		{"not found", NotFound("", "schema"), IsNotFound, ErrNotFound, "not found: schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
			assert.True(t, errors.Is(tt.err, tt.kind))
			assert.Equal(t, tt.wants, tt.err.Error())

			wrapped := fmt.Errorf("startup: %w", tt.err)
			assert.True(t, tt.is(wrapped))
		})
	}
}

func TestMigrationKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Migration("ReplaceOne", cause, "document %v", 42)

	assert.True(t, IsMigration(err))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsArgument(err))
	assert.Contains(t, err.Error(), "connection reset")

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "ReplaceOne", e.Op)
}
