package jobs

import (
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), uuid.NewString)
}
