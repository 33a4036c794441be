package asset

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Variant holds the stored derivative metadata for one target size.
type Variant struct {
	CDNPath     string `json:"cdn_path"`
	CDNURL      string `json:"cdn_url"`
	ContentHash string `json:"content_hash"`
	FileSize    int64  `json:"file_size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Variants maps a target edge length to its uploaded derivative. It is
// stored as a JSONB column; target sizes are runtime configuration, so
// they cannot be schema columns.
type Variants map[int]Variant

// Scan implements sql.Scanner for reading from the database.
func (v *Variants) Scan(value any) error {
	if value == nil {
		*v = Variants{}
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("asset.Variants.Scan: expected []byte or string, got %T", value)
	}
}

// Value implements driver.Valuer for writing to the database.
func (v Variants) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[int]Variant(v))
}
