package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailedCopyMatchesSentinel(t *testing.T) {
	err := ErrInsufficientStock.Withf("batch %s: available=%d requested=%d", "b1", 3, 5)

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrOverAllocation))
	assert.Contains(t, err.Error(), "available=3 requested=5")
}

func TestWrappedCauseIsPreserved(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("checkout: %w", ErrPaymentInitFailed.Wrap(cause))

	assert.True(t, errors.Is(err, ErrPaymentInitFailed))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeUpstream, CodeOf(err))
	assert.Equal(t, "PaymentInitFailed", ReasonOf(err))
}

func TestCodeOfUnknownError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "Internal", ReasonOf(errors.New("boom")))
}
