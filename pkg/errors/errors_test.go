package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	clone := Clone(ErrOwnershipConflict, "course c1 owned elsewhere")
	assert.True(t, errors.Is(clone, ErrOwnershipConflict))
	assert.False(t, errors.Is(clone, ErrConflict))
	assert.Equal(t, http.StatusConflict, clone.Status)
}

func TestWrapAsUnwraps(t *testing.T) {
	root := fmt.Errorf("dial tcp: timeout")
	err := WrapAs(ErrProviderUnavailable, root)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))

	wrapped := fmt.Errorf("run: %w", ErrAuthExpired)
	assert.Equal(t, ErrAuthExpired.Code, FromError(wrapped).Code)
}
