package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}
	return path
}

func TestReadBatch(t *testing.T) {
	path := writeBatch(t, `
# avatars refreshed 2026-08
profile_avatar u42 avatar http://img/u42.png
post_thumbnail p7 m1 http://img/p7.jpg 256,1024
`)

	requests, err := readBatch(path, []int{256, 512})
	if err != nil {
		t.Fatalf("readBatch returned error: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}

	if requests[0].id.SourceType != asset.SourceProfileAvatar || requests[0].id.SourceID != "u42" {
		t.Fatalf("unexpected first identity: %v", requests[0].id)
	}
	if len(requests[0].sizes) != 2 || requests[0].sizes[0] != 256 {
		t.Fatalf("first request should use default sizes, got %v", requests[0].sizes)
	}
	if len(requests[1].sizes) != 2 || requests[1].sizes[1] != 1024 {
		t.Fatalf("second request should use its own sizes, got %v", requests[1].sizes)
	}
}

func TestReadBatchRejectsMalformedLines(t *testing.T) {
	bad := []string{
		"profile_avatar u42 avatar",                  // missing url
		"banner u42 avatar http://img/u42.png",       // unknown source type
		"post_thumbnail p7 m1 http://img/p7.jpg abc", // bad sizes
	}
	for _, line := range bad {
		path := writeBatch(t, line)
		if _, err := readBatch(path, []int{256}); err == nil {
			t.Errorf("line %q accepted, want error", line)
		}
	}
}

func TestNewRequestDefaultsAvatarMediaID(t *testing.T) {
	req, err := newRequest("profile_avatar", "u42", "", "http://img/u42.png", []int{128})
	if err != nil {
		t.Fatalf("newRequest returned error: %v", err)
	}
	if req.id.MediaID != asset.AvatarMediaID {
		t.Fatalf("expected avatar media id, got %q", req.id.MediaID)
	}
}
