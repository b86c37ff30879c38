package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"studypal/pkg/domain"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func TestResolverStoresAndPresigns(t *testing.T) {
	store := newFakeObjectStore()
	r := NewResolver(store, Config{})

	refs, err := r.Resolve(context.Background(), "conv-1", []Upload{
		{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")},
		{Name: "diagram.png", ContentType: "image/png", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	for i, ref := range refs {
		if ref.StorageKey == "" || !strings.HasPrefix(ref.StorageKey, "conversation/conv-1/") {
			t.Fatalf("ref %d has bad storage key %q", i, ref.StorageKey)
		}
		if !strings.Contains(ref.URL, ref.StorageKey) {
			t.Fatalf("ref %d URL %q does not point at the object", i, ref.URL)
		}
	}
	if refs[0].Name != "notes.txt" || refs[1].Name != "diagram.png" {
		t.Fatalf("refs out of order: %+v", refs)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objects) != 2 {
		t.Fatalf("expected 2 stored objects, got %d", len(store.objects))
	}
}

func TestResolverRejectsBadUploads(t *testing.T) {
	r := NewResolver(newFakeObjectStore(), Config{MaxCount: 2, MaxSizeBytes: 10})

	cases := []struct {
		name    string
		uploads []Upload
	}{
		{"disallowed extension", []Upload{{Name: "evil.exe", Data: []byte("x")}}},
		{"oversize", []Upload{{Name: "big.txt", Data: []byte("0123456789ab")}}},
		{"empty file", []Upload{{Name: "empty.txt", Data: nil}}},
		{"missing name", []Upload{{Name: "", Data: []byte("x")}}},
		{"too many", []Upload{
			{Name: "a.txt", Data: []byte("x")},
			{Name: "b.txt", Data: []byte("x")},
			{Name: "c.txt", Data: []byte("x")},
		}},
	}
	for _, tc := range cases {
		_, err := r.Resolve(context.Background(), "conv-1", tc.uploads)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestResolverStorageFailure(t *testing.T) {
	store := newFakeObjectStore()
	store.putErr = fmt.Errorf("backend down")
	r := NewResolver(store, Config{})

	_, err := r.Resolve(context.Background(), "conv-1", []Upload{
		{Name: "notes.txt", Data: []byte("hello")},
	})
	if err == nil {
		t.Fatalf("expected storage error")
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		t.Fatalf("storage failures are not client errors: %v", err)
	}
}

func TestRenderRefs(t *testing.T) {
	refs := []domain.AttachmentRef{
		{Name: "notes.txt", URL: "https://o/1", ContentType: "text/plain"},
		{Name: "diagram.png", URL: "https://o/2", ContentType: "image/png"},
	}
	got := RenderRefs("看看这两个文件", refs)
	if !strings.Contains(got, "[file: notes.txt|https://o/1]") {
		t.Fatalf("missing file ref: %q", got)
	}
	if !strings.Contains(got, "[image: diagram.png|https://o/2]") {
		t.Fatalf("missing image ref: %q", got)
	}
	if !strings.HasPrefix(got, "看看这两个文件") {
		t.Fatalf("content should lead: %q", got)
	}
	if RenderRefs("plain", nil) != "plain" {
		t.Fatalf("no refs should leave content untouched")
	}
}
