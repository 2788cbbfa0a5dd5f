package models

import (
	"encoding/json"
	"time"
)

// Setting stores a runtime override, e.g. IVR abuse thresholds, as a JSON value.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"`                      // Setting key.
	Value     json.RawMessage `gorm:"type:jsonb"`                                        // JSON-encoded value.
	UpdatedBy string          `gorm:"type:text"`                                         // Admin who last wrote it.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime;default:CURRENT_TIMESTAMP"` // Last update timestamp.
}
