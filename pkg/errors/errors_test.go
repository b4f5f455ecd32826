package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	cloned := Clone(ErrInvalidTransition, "session already active")
	wrapped := fmt.Errorf("start: %w", cloned)

	assert.True(t, errors.Is(wrapped, ErrInvalidTransition))
	assert.False(t, errors.Is(wrapped, ErrRosterLoad))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, "internal server error: boom", appErr.Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(errors.New("timeout"), ErrSessionPersist.Code, ErrSessionPersist.Status, "persist")))
	assert.True(t, Retryable(Clone(ErrRosterLoad, "")))
	assert.False(t, Retryable(ErrInvalidTransition))
	assert.False(t, Retryable(nil))
}
