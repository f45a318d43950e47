package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"sessioncore/internal/blob/core"
)

func TestMockPutGetListDelete(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()

	info, err := s.Put(ctx, "sessions/realm-a/one.json", strings.NewReader(`{"id":"one"}`), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Key != "sessions/realm-a/one.json" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := s.Put(ctx, "sessions/realm-a/one.json", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put to fail")
	}

	got, rc, err := s.Get(ctx, "sessions/realm-a/one.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":"one"}` {
		t.Fatalf("unexpected body %q", body)
	}
	if got.ContentType != "application/json" {
		t.Fatalf("content type %q", got.ContentType)
	}

	if _, err := s.Put(ctx, "sessions/realm-b/two.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	infos, err := s.List(ctx, "sessions/realm-a/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "sessions/realm-a/one.json" {
		t.Fatalf("unexpected listing %+v", infos)
	}

	existed, err := s.Delete(ctx, "sessions/realm-a/one.json")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	if _, err := s.Head(ctx, "sessions/realm-a/one.json"); err == nil {
		t.Fatalf("expected head after delete to fail")
	}
}

func TestMockPresignURL(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	u, err := s.PresignURL(ctx, "k", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	if !strings.Contains(u, "mock.s3.local") {
		t.Fatalf("unexpected url %q", u)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); err == nil {
		t.Fatalf("expected non-GET presign to fail")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing bucket to fail")
	}
}
