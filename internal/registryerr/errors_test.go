package registryerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = Conflict("sample_conflict", "Sample conflict")

func TestKindOfWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("redeem: %w", errSample)

	assert.True(t, errors.Is(wrapped, errSample))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "Sample conflict", MessageOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
}
