package memory

import (
	"context"
	"testing"
)

func TestArchivePutAndGet(t *testing.T) {
	t.Parallel()

	arc := New()
	uri, err := arc.Put(context.Background(), "job-1/search.json", "application/json", []byte(`{"items":[]}`))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "mem://job-1/search.json" {
		t.Fatalf("unexpected uri %q", uri)
	}

	data, ok := arc.Get("job-1/search.json")
	if !ok || string(data) != `{"items":[]}` {
		t.Fatalf("stored payload mismatch: ok=%v data=%s", ok, data)
	}

	if _, ok := arc.Get("job-2/search.json"); ok {
		t.Fatal("expected miss for unknown path")
	}
}
