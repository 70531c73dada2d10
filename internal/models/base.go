package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel defines the common fields for all models.
// IDs are generated by the caller (message ids come from the sending client).
type BaseModel struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deletedAt,omitempty"` // For soft deletes
}
