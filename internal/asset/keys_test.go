package asset

import "testing"

func TestStorageKey(t *testing.T) {
	id := Identity{SourceType: SourcePostThumbnail, SourceID: "p99", MediaID: "m7"}

	got := StorageKey(id, 512, "d41d8cd98f00b204", "jpeg")
	want := "post_thumbnail/p99/m7/512/d41d8cd98f00b204.jpg"
	if got != want {
		t.Errorf("StorageKey = %q, want %q", got, want)
	}
}

func TestKeyPrefixCoversStorageKey(t *testing.T) {
	id := Identity{SourceType: SourceProfileAvatar, SourceID: "u1", MediaID: AvatarMediaID}

	key := StorageKey(id, 128, "abc", "jpeg")
	prefix := KeyPrefix(id, 128)
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		t.Errorf("key %q not under prefix %q", key, prefix)
	}
}

func TestCDNURLUsesSegment(t *testing.T) {
	tests := []struct {
		id   Identity
		size int
		want string
	}{
		{
			id:   Identity{SourceType: SourceProfileAvatar, SourceID: "u42", MediaID: AvatarMediaID},
			size: 128,
			want: "https://cdn.example.com/avatars/u42/avatar/128.jpg",
		},
		{
			id:   Identity{SourceType: SourcePostThumbnail, SourceID: "p99", MediaID: "m7"},
			size: 512,
			want: "https://cdn.example.com/posts/p99/m7/512.jpg",
		},
	}
	for _, tc := range tests {
		if got := CDNURL("cdn.example.com", tc.id, tc.size, "jpeg"); got != tc.want {
			t.Errorf("CDNURL(%v, %d) = %q, want %q", tc.id, tc.size, got, tc.want)
		}
	}
}

func TestExt(t *testing.T) {
	if got := Ext("jpeg"); got != "jpg" {
		t.Errorf("Ext(jpeg) = %q", got)
	}
	if got := Ext(""); got != "jpg" {
		t.Errorf("Ext(empty) = %q", got)
	}
	if got := Ext("webp"); got != "webp" {
		t.Errorf("Ext(webp) = %q", got)
	}
}

func TestIdentityValidate(t *testing.T) {
	ok := Identity{SourceType: SourceProfileAvatar, SourceID: "u1", MediaID: AvatarMediaID}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid identity rejected: %v", err)
	}

	bad := []Identity{
		{SourceType: "banner", SourceID: "u1", MediaID: "m1"},
		{SourceType: SourcePostThumbnail, SourceID: "", MediaID: "m1"},
		{SourceType: SourcePostThumbnail, SourceID: "p1", MediaID: ""},
	}
	for _, id := range bad {
		if err := id.Validate(); err == nil {
			t.Errorf("identity %v accepted, want error", id)
		}
	}
}

func TestAssetComplete(t *testing.T) {
	a := &Asset{Variants: Variants{
		128: {CDNPath: "p/128/a.jpg", ContentHash: "a"},
		256: {CDNPath: "p/256/b.jpg", ContentHash: "b"},
	}}

	if !a.Complete([]int{128, 256}) {
		t.Error("asset with all variants reported incomplete")
	}
	if a.Complete([]int{128, 512}) {
		t.Error("missing size reported complete")
	}
	if a.Complete(nil) {
		t.Error("empty size list reported complete")
	}
}
