package id

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableULID(t *testing.T) {
	a := New()
	b := New()

	if _, err := ulid.ParseStrict(a); err != nil {
		t.Fatalf("expected valid ulid, got %q: %v", a, err)
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if b < a {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}
