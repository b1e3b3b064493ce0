package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("apply plan change: %w", errors.New("contract 42 missing"))
	assert.EqualError(t, SafeError(err), "apply plan change")
	assert.Nil(t, SafeError(nil))
}
