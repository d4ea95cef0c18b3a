package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post is a piece of user-authored content.
type Post struct {
	ID        string                      `gorm:"primaryKey;size:36" json:"id"`
	Title     string                      `gorm:"size:255;not null;index" json:"title"`
	Content   string                      `gorm:"type:text;not null" json:"content"`
	Published bool                        `gorm:"index" json:"published"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`

	AuthorID string      `gorm:"size:36;not null;index" json:"author_id"`
	Author   *PublicUser `gorm:"-" json:"author,omitempty"`

	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
