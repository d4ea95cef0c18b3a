package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/models"
	apperrors "github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
)

// updatableUserColumns lists the columns UpdateUser may touch.
var updatableUserColumns = map[string]struct{}{
	"name":          {},
	"email":         {},
	"password":      {},
	"last_login_at": {},
	"last_login_ip": {},
}

// UpdateUserInput enumerates profile attributes a user may change.
type UpdateUserInput struct {
	Name  *string
	Email *string
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users   []models.PublicUser `json:"users"`
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

// UserService owns user persistence. It is also the user store behind authentication.
type UserService struct {
	db    *gorm.DB
	cache *cache.Aside
	log   *zap.Logger
}

// NewUserService constructs a UserService instance. A nil cache disables read caching.
func NewUserService(db *gorm.DB, aside *cache.Aside) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{
		db:    db,
		cache: aside,
		log:   logger.WithModule("users"),
	}, nil
}

// FindUserByEmail returns the user with the given email, or (nil, nil).
func (s *UserService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return s.findOne(ensureContext(ctx), "email = ?", email)
}

// FindUserByID returns the user with the given id, or (nil, nil).
func (s *UserService) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return s.findOne(ensureContext(ctx), "id = ?", id)
}

// CreateUser persists a new user. A duplicate email yields an error matching apperrors.ErrConflict.
func (s *UserService) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	ctx = ensureContext(ctx)
	if user == nil {
		return nil, errors.New("user service: user is required")
	}

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Name = strings.TrimSpace(user.Name)

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailInUse.WithInternal(err)
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	s.invalidate(ctx, false)
	return user, nil
}

// UpdateUser applies column updates to a user and returns the reloaded row, or (nil, nil)
// when the user does not exist.
func (s *UserService) UpdateUser(ctx context.Context, id string, updates map[string]any) (*models.User, error) {
	ctx = ensureContext(ctx)

	filtered := make(map[string]any, len(updates))
	for column, value := range updates {
		if _, ok := updatableUserColumns[column]; !ok {
			return nil, fmt.Errorf("user service: column %q is not updatable", column)
		}
		filtered[column] = value
	}
	if email, ok := filtered["email"].(string); ok {
		filtered["email"] = strings.ToLower(strings.TrimSpace(email))
	}

	user, err := s.FindUserByID(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}
	if len(filtered) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(filtered).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailInUse.WithInternal(err)
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	_, profileChanged := filtered["name"]
	if _, ok := filtered["email"]; ok {
		profileChanged = true
	}
	s.invalidate(ctx, profileChanged)

	return s.FindUserByID(ctx, id)
}

// List returns a page of users, served from the cache when possible.
func (s *UserService) List(ctx context.Context, opts ListOptions) (*UserPage, error) {
	ctx = ensureContext(ctx)
	opts = opts.normalise("created_at", "name", "email")

	key := cache.ListKey(cache.PrefixUsers, opts.cacheQuery(""))
	return cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (*UserPage, error) {
		query := s.db.WithContext(ctx).Model(&models.User{})
		if opts.Search != "" {
			pattern := searchPattern(opts.Search)
			query = query.Where("LOWER(name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!'", pattern, pattern)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			return nil, fmt.Errorf("user service: count users: %w", err)
		}

		var users []models.User
		if err := opts.apply(query).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("user service: list users: %w", err)
		}

		page := &UserPage{
			Users:   make([]models.PublicUser, 0, len(users)),
			Total:   total,
			Page:    opts.Page,
			PerPage: opts.PerPage,
		}
		for i := range users {
			page.Users = append(page.Users, users[i].Public())
		}
		return page, nil
	})
}

// Get returns the public view of a user, served from the cache when possible.
func (s *UserService) Get(ctx context.Context, id string) (*models.PublicUser, error) {
	ctx = ensureContext(ctx)

	key := cache.EntityKey(cache.PrefixUser, id)
	return cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (*models.PublicUser, error) {
		user, err := s.FindUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		public := user.Public()
		return &public, nil
	})
}

// Update changes a user's own profile.
func (s *UserService) Update(ctx context.Context, actorID, id string, input UpdateUserInput) (*models.PublicUser, error) {
	if actorID != id {
		return nil, ErrNotOwner
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("name cannot be empty")
		}
		updates["name"] = name
	}
	if input.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*input.Email))
		if email == "" {
			return nil, apperrors.NewBadRequest("email cannot be empty")
		}
		updates["email"] = email
	}

	user, err := s.UpdateUser(ctx, id, updates)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	public := user.Public()
	return &public, nil
}

// Delete removes a user's own account together with their posts.
func (s *UserService) Delete(ctx context.Context, actorID, id string) error {
	ctx = ensureContext(ctx)
	if actorID != id {
		return ErrNotOwner
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("author_id = ?", id).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("user service: delete user: %w", err)
	}

	s.invalidate(ctx, true)
	return nil
}

func (s *UserService) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where(query, args...).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// invalidate drops cached users, and cached posts too when author details embedded in
// posts may have changed. Cache failures only cost freshness until the entries expire.
func (s *UserService) invalidate(ctx context.Context, includePosts bool) {
	if err := s.cache.InvalidateUserCache(ctx); err != nil {
		s.log.Warn("invalidate user cache failed", zap.Error(err))
	}
	if !includePosts {
		return
	}
	if err := s.cache.InvalidatePostCache(ctx); err != nil {
		s.log.Warn("invalidate post cache failed", zap.Error(err))
	}
}
