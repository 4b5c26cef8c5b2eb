package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := apperrors.NewNotFoundError("view session not found")
		assert.Equal(t, "NOT_FOUND: view session not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := apperrors.NewFetchFailedError("records service unavailable", 503, errors.New("boom"))
		assert.Equal(t, "FETCH_FAILED: records service unavailable: boom", err.Error())
		assert.Equal(t, 503, err.Status)
	})
}

func TestTypeOf_WalksWrappedChain(t *testing.T) {
	inner := apperrors.NewMalformedResponseError("missing field total", nil)
	wrapped := fmt.Errorf("fetch page 2: %w", inner)

	assert.Equal(t, apperrors.ErrorTypeMalformedResponse, apperrors.TypeOf(wrapped))
	assert.True(t, apperrors.IsType(wrapped, apperrors.ErrorTypeMalformedResponse))
	assert.False(t, apperrors.IsType(wrapped, apperrors.ErrorTypeFetchFailed))
	assert.Equal(t, apperrors.ErrorType(""), apperrors.TypeOf(errors.New("plain")))

	appErr, ok := apperrors.As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, appErr)
}

func TestNewInvalidFilterValueError(t *testing.T) {
	err := apperrors.NewInvalidFilterValueError("minAge", "abc", errors.New("not a number"))
	assert.Equal(t, apperrors.ErrorTypeInvalidFilterValue, err.Type)
	assert.Contains(t, err.Message, `"abc"`)
	assert.Contains(t, err.Message, "minAge")
}
