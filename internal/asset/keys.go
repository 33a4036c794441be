package asset

import "fmt"

// Ext returns the file extension for an output format name.
func Ext(format string) string {
	switch format {
	case "jpeg", "jpg", "":
		return "jpg"
	default:
		return format
	}
}

// StorageKey builds the deterministic object key for one derivative.
// Re-processing identical upstream bytes yields the same hash and
// therefore the same key, so overwrites are safe.
func StorageKey(id Identity, size int, contentHash, format string) string {
	return fmt.Sprintf("%s/%s/%s/%d/%s.%s",
		id.SourceType, id.SourceID, id.MediaID, size, contentHash, Ext(format))
}

// KeyPrefix is the prefix under which every derivative of an asset
// at one size lives. Used by reconciliation to probe for uploads whose
// registry commit was lost.
func KeyPrefix(id Identity, size int) string {
	return fmt.Sprintf("%s/%s/%s/%d/", id.SourceType, id.SourceID, id.MediaID, size)
}

// CDNURL builds the stable, cache-friendly URL served to callers. The
// content hash lives in the storage key, not the public path.
func CDNURL(cdnHost string, id Identity, size int, format string) string {
	return fmt.Sprintf("https://%s/%s/%s/%s/%d.%s",
		cdnHost, id.SourceType.Segment(), id.SourceID, id.MediaID, size, Ext(format))
}
