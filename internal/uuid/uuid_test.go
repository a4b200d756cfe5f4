package uuid

import (
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id1 := New()
	id2 := New()

	if id1 == id2 {
		t.Error("UUIDs should be unique")
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("New returned an unparsable id %q: %v", id1, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected a version 4 UUID, got version %d", parsed.Version())
	}
}
