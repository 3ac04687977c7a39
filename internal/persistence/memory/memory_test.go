package memory_test

import (
	"testing"

	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/persistence/memory"
	"github.com/example/negotiation-scheduler/internal/persistence/storetest"
)

func TestStorageContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) persistence.Store {
		return memory.Open()
	})
}
