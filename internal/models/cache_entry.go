package models

import (
	"time"
)

// CacheEntry represents a cached value stored in the database fallback. A zero ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CacheSetMember is one member of a set-valued key in the database fallback.
type CacheSetMember struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Member    string    `gorm:"primaryKey;size:256"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}
