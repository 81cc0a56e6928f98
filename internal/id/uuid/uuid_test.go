package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique IDs, got %s twice", first)
	}

	parsed, err := goUUID.Parse(first)
	if err != nil {
		t.Fatalf("id not a valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected UUID v7, got v%d", parsed.Version())
	}
	// V7 ids sort by creation time.
	if !(first < second) {
		t.Fatalf("expected %s < %s", first, second)
	}
}
