package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/models"
	apperrors "github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
)

const maxTagsPerPost = 10

// CreatePostInput captures the attributes of a new post.
type CreatePostInput struct {
	Title     string
	Content   string
	Published *bool
	Tags      []string
}

// UpdatePostInput captures a partial post update. Nil fields are left untouched.
type UpdatePostInput struct {
	Title     *string
	Content   *string
	Published *bool
	Tags      *[]string
}

// PostListOptions extends ListOptions with author scoping.
type PostListOptions struct {
	ListOptions
	AuthorID string
	// IncludeDrafts is honoured only when the viewer is the author being listed.
	IncludeDrafts bool
}

// PostPage is one page of the post listing.
type PostPage struct {
	Posts   []models.Post `json:"posts"`
	Total   int64         `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// PostService manages posts with cache-aside reads.
type PostService struct {
	db    *gorm.DB
	cache *cache.Aside
	log   *zap.Logger
}

// NewPostService constructs a PostService. A nil cache disables read caching.
func NewPostService(db *gorm.DB, aside *cache.Aside) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	return &PostService{
		db:    db,
		cache: aside,
		log:   logger.WithModule("posts"),
	}, nil
}

// Create stores a post authored by authorID. Posts are published unless stated otherwise.
func (s *PostService) Create(ctx context.Context, authorID string, input CreatePostInput) (*models.Post, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}
	if content == "" {
		return nil, apperrors.NewBadRequest("content is required")
	}
	tags, err := normaliseTags(input.Tags)
	if err != nil {
		return nil, err
	}

	published := true
	if input.Published != nil {
		published = *input.Published
	}

	post := &models.Post{
		Title:     title,
		Content:   content,
		Published: published,
		Tags:      tags,
		AuthorID:  authorID,
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("post service: create post: %w", err)
	}

	s.invalidate(ctx)

	if err := s.attachAuthors(ctx, []*models.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// Get returns a post. Drafts are only visible to their author.
func (s *PostService) Get(ctx context.Context, viewerID, id string) (*models.Post, error) {
	ctx = ensureContext(ctx)

	key := cache.EntityKey(cache.PrefixPost, id)
	post, err := cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (*models.Post, error) {
		post, err := s.find(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.attachAuthors(ctx, []*models.Post{post}); err != nil {
			return nil, err
		}
		return post, nil
	})
	if err != nil {
		return nil, err
	}

	if !post.Published && post.AuthorID != viewerID {
		return nil, ErrPostNotFound
	}
	return post, nil
}

// List returns a page of posts. Only published posts are listed, unless the viewer lists
// their own posts with drafts included.
func (s *PostService) List(ctx context.Context, viewerID string, opts PostListOptions) (*PostPage, error) {
	ctx = ensureContext(ctx)
	opts.ListOptions = opts.ListOptions.normalise("created_at", "updated_at", "title")
	opts.AuthorID = strings.TrimSpace(opts.AuthorID)
	drafts := opts.IncludeDrafts && opts.AuthorID != "" && opts.AuthorID == viewerID

	scope := ""
	if opts.AuthorID != "" {
		scope = "author=" + opts.AuthorID
		if drafts {
			scope += "+drafts"
		}
	}

	key := cache.ListKey(cache.PrefixPosts, opts.cacheQuery(scope))
	return cache.Remember(ctx, s.cache, key, 0, func(ctx context.Context) (*PostPage, error) {
		query := s.db.WithContext(ctx).Model(&models.Post{})
		if opts.AuthorID != "" {
			query = query.Where("author_id = ?", opts.AuthorID)
		}
		if !drafts {
			query = query.Where("published = ?", true)
		}
		if opts.Search != "" {
			pattern := searchPattern(opts.Search)
			query = query.Where("LOWER(title) LIKE ? ESCAPE '!' OR LOWER(content) LIKE ? ESCAPE '!'", pattern, pattern)
		}

		var total int64
		if err := query.Count(&total).Error; err != nil {
			return nil, fmt.Errorf("post service: count posts: %w", err)
		}

		var posts []models.Post
		if err := opts.apply(query).Find(&posts).Error; err != nil {
			return nil, fmt.Errorf("post service: list posts: %w", err)
		}

		refs := make([]*models.Post, len(posts))
		for i := range posts {
			refs[i] = &posts[i]
		}
		if err := s.attachAuthors(ctx, refs); err != nil {
			return nil, err
		}

		return &PostPage{Posts: posts, Total: total, Page: opts.Page, PerPage: opts.PerPage}, nil
	})
}

// Update modifies a post owned by actorID.
func (s *PostService) Update(ctx context.Context, actorID, id string, input UpdatePostInput) (*models.Post, error) {
	ctx = ensureContext(ctx)

	post, err := s.owned(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("title cannot be empty")
		}
		updates["title"] = title
	}
	if input.Content != nil {
		content := strings.TrimSpace(*input.Content)
		if content == "" {
			return nil, apperrors.NewBadRequest("content cannot be empty")
		}
		updates["content"] = content
	}
	if input.Published != nil {
		updates["published"] = *input.Published
	}
	if input.Tags != nil {
		tags, err := normaliseTags(*input.Tags)
		if err != nil {
			return nil, err
		}
		updates["tags"] = tags
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(post).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("post service: update post: %w", err)
		}
		s.invalidate(ctx)
	}

	updated, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachAuthors(ctx, []*models.Post{updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a post owned by actorID.
func (s *PostService) Delete(ctx context.Context, actorID, id string) error {
	ctx = ensureContext(ctx)

	post, err := s.owned(ctx, actorID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(post).Error; err != nil {
		return fmt.Errorf("post service: delete post: %w", err)
	}

	s.invalidate(ctx)
	return nil
}

func (s *PostService) find(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post service: find post: %w", err)
	}
	return &post, nil
}

// owned loads a post for mutation. Another author's draft is reported as missing so its
// existence is not revealed.
func (s *PostService) owned(ctx context.Context, actorID, id string) (*models.Post, error) {
	post, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actorID {
		if !post.Published {
			return nil, ErrPostNotFound
		}
		return nil, ErrNotOwner
	}
	return post, nil
}

// attachAuthors resolves the public author of every post with one query.
func (s *PostService) attachAuthors(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))
	for _, post := range posts {
		if _, ok := seen[post.AuthorID]; ok {
			continue
		}
		seen[post.AuthorID] = struct{}{}
		ids = append(ids, post.AuthorID)
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return fmt.Errorf("post service: load authors: %w", err)
	}

	authors := make(map[string]models.PublicUser, len(users))
	for i := range users {
		authors[users[i].ID] = users[i].Public()
	}
	for _, post := range posts {
		if author, ok := authors[post.AuthorID]; ok {
			post.Author = &author
		}
	}
	return nil
}

func (s *PostService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidatePostCache(ctx); err != nil {
		s.log.Warn("invalidate post cache failed", zap.Error(err))
	}
}

// normaliseTags trims, de-duplicates case-insensitively and drops empty tags.
func normaliseTags(tags []string) (datatypes.JSONSlice[string], error) {
	out := make(datatypes.JSONSlice[string], 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		lower := strings.ToLower(tag)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > maxTagsPerPost {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("a post may carry at most %d tags", maxTagsPerPost))
	}
	return out, nil
}
