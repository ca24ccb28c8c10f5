package testing

import (
	"testing"

	"github.com/arloliu/leadership/internal/logger"
	"github.com/arloliu/leadership/types"
)

// NewTestLogger creates a logger that writes to the test log. Records
// logged after the test finished are dropped.
func NewTestLogger(t testing.TB) types.Logger {
	return logger.NewTest(t)
}
