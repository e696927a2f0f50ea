package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Classify(nil))
	assert.Equal(t, "errors_errorstring", Classify(errors.New("boom")))
	assert.Equal(t, "net_operror", Classify(&net.OpError{Op: "dial"}))

	// Wrapping layers do not change the class.
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", context.DeadlineExceeded))
	assert.Equal(t, Classify(context.DeadlineExceeded), Classify(wrapped))
}
