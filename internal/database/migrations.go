package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/models"
	"github.com/charlesng35/postboard/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.CacheEntry{},
		&models.CacheSetMember{},
	)
}

// SeedOptions controls the optional demo data inserted on an empty database.
type SeedOptions struct {
	Enabled       bool
	AdminName     string
	AdminEmail    string
	AdminPassword string
	BcryptCost    int
}

// SeedData inserts a demo user and a welcome post when the users table is empty.
// It is a no-op on any database that already has users.
func SeedData(db *gorm.DB, opts SeedOptions) error {
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" || opts.AdminPassword == "" {
		return errors.New("seed requires an admin email and password")
	}

	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	digest, err := crypto.HashPasswordWithCost(opts.AdminPassword, opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	name := strings.TrimSpace(opts.AdminName)
	if name == "" {
		name = "Administrator"
	}

	return db.Transaction(func(tx *gorm.DB) error {
		user := models.User{Name: name, Email: email, Password: digest}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		post := models.Post{
			Title:     "Welcome to postboard",
			Content:   "This post was created by the seeder. Edit or delete it freely.",
			Published: true,
			Tags:      []string{"welcome"},
			AuthorID:  user.ID,
		}
		return tx.Create(&post).Error
	})
}
