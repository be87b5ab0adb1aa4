package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrInvalidTimeSpec.WrapMsg("not in the future", "expires_at", "2026-01-01T00:00:00Z")

	require.True(t, errors.Is(err, ErrInvalidTimeSpec))
	assert.False(t, errors.Is(err, ErrInvalidIdentity))

	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, InvalidTimeSpecCode, ce.Code)
	assert.Equal(t, "not in the future, expires_at=2026-01-01T00:00:00Z", ce.Detail)
	assert.Equal(t, "1003 InvalidTimeSpec not in the future, expires_at=2026-01-01T00:00:00Z", ce.Error())
}

func TestWrapMsgDoesNotMutateSentinel(t *testing.T) {
	_ = ErrUnregisteredUser.WrapMsg("first")
	assert.Empty(t, ErrUnregisteredUser.Detail)
}

func TestPublisherCausesMatchParent(t *testing.T) {
	err := fmt.Errorf("location: %w", ErrForbidden.WrapMsg("desk owned by someone else"))

	assert.True(t, errors.Is(err, ErrForbidden))
	assert.True(t, errors.Is(err, ErrPublisherFailure))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(ErrPublisherFailure.Wrap(), ErrForbidden), "parent is not a child")
}

func TestCodeRelationRejectsSingleCode(t *testing.T) {
	assert.Error(t, newCodeRelation().Add(1))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("boom")
	ce, ok := AsCode(err)
	require.True(t, ok)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Equal(t, "boom", ce.Detail)
}
