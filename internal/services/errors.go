package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/postboard/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrPostNotFound indicates the requested post does not exist or is not visible.
	ErrPostNotFound = apperrors.New("POST_NOT_FOUND", "Post not found", http.StatusNotFound)
	// ErrEmailInUse is returned when an email collides with another account. It matches apperrors.ErrConflict.
	ErrEmailInUse = apperrors.ErrConflict.WithMessage("Email is already in use")
	// ErrNotOwner is returned when a caller mutates a resource they do not own.
	ErrNotOwner = apperrors.ErrForbidden.WithMessage("You can only modify your own resources")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// SQLite reports "UNIQUE constraint failed: users.email".
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}
