package asset

import "testing"

func TestVariantsScanValueRoundTrip(t *testing.T) {
	in := Variants{
		128: {CDNPath: "avatars/u1/avatar/128/abc.jpg", ContentHash: "abc", FileSize: 1024, Width: 128, Height: 96},
	}

	raw, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out Variants
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out[128] != in[128] {
		t.Errorf("round trip changed variant: got %+v, want %+v", out[128], in[128])
	}
}

func TestVariantsScanNil(t *testing.T) {
	var v Variants
	if err := v.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if v == nil || len(v) != 0 {
		t.Errorf("Scan(nil) should yield an empty map, got %#v", v)
	}
}

func TestVariantsValueNilIsEmptyObject(t *testing.T) {
	var v Variants
	raw, err := v.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(raw.([]byte)) != "{}" {
		t.Errorf("nil Variants marshaled as %q, want {}", raw)
	}
}
