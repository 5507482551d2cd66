package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryPutGetHeadDeleteList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	info, err := s.Put(ctx, "imports/a.csv", strings.NewReader("code\n13-001\n"), PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"actor": "sato"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("code\n13-001\n")) || info.ContentType != "text/csv" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ETag == "" {
		t.Fatalf("etag missing")
	}

	// Create-only: the same key cannot be written twice.
	if _, err := s.Put(ctx, "imports/a.csv", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate-key error")
	}

	got, rc, err := s.Get(ctx, "imports/a.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "code\n13-001\n" {
		t.Fatalf("payload = %q", data)
	}
	if got.Metadata["actor"] != "sato" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}

	if _, err := s.Head(ctx, "imports/a.csv"); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := s.Head(ctx, "missing"); err == nil {
		t.Fatalf("head of missing key must fail")
	}

	if _, err := s.Put(ctx, "other/b.csv", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	infos, err := s.List(ctx, "imports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "imports/a.csv" {
		t.Fatalf("prefix list wrong: %+v", infos)
	}

	deleted, err := s.Delete(ctx, "imports/a.csv")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "imports/a.csv")
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
}

func TestMemoryPresignUnsupported(t *testing.T) {
	s := NewMemory()
	if _, err := s.PresignURL(context.Background(), "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
}

func TestMemoryRejectsEmptyKey(t *testing.T) {
	s := NewMemory()
	if _, err := s.Put(context.Background(), "", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("empty key must be rejected")
	}
}
