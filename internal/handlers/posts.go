package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/postboard/internal/middleware"
	"github.com/charlesng35/postboard/internal/services"
	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/response"
)

// PostHandler exposes post CRUD.
type PostHandler struct {
	posts *services.PostService
}

type createPostRequest struct {
	Title     string   `json:"title" validate:"required,notblank,max=255"`
	Content   string   `json:"content" validate:"required,notblank"`
	Published *bool    `json:"published"`
	Tags      []string `json:"tags" validate:"omitempty,max=10,dive,max=32"`
}

type updatePostRequest struct {
	Title     *string   `json:"title" validate:"omitempty,notblank,max=255"`
	Content   *string   `json:"content" validate:"omitempty,notblank"`
	Published *bool     `json:"published"`
	Tags      *[]string `json:"tags" validate:"omitempty,max=10,dive,max=32"`
}

type listPostsQuery struct {
	listQuery
	AuthorID      string `form:"author_id" json:"author_id" validate:"omitempty,max=36"`
	IncludeDrafts bool   `form:"include_drafts" json:"include_drafts"`
}

// NewPostHandler constructs a PostHandler.
func NewPostHandler(posts *services.PostService) (*PostHandler, error) {
	if posts == nil {
		return nil, errors.ErrInternalServer.WithMessage("post service is required")
	}
	return &PostHandler{posts: posts}, nil
}

// GET /api/posts
func (h *PostHandler) List(c *gin.Context) {
	var query listPostsQuery
	if !bindQuery(c, &query) {
		return
	}
	h.list(c, query.AuthorID, query)
}

// GET /api/users/:id/posts
func (h *PostHandler) ListByAuthor(c *gin.Context) {
	var query listPostsQuery
	if !bindQuery(c, &query) {
		return
	}
	h.list(c, c.Param("id"), query)
}

func (h *PostHandler) list(c *gin.Context, authorID string, query listPostsQuery) {
	page, err := h.posts.List(requestContext(c), middleware.UserID(c), services.PostListOptions{
		ListOptions:   query.options(),
		AuthorID:      authorID,
		IncludeDrafts: query.IncludeDrafts,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page.Posts, response.NewMeta(page.Page, page.PerPage, page.Total))
}

// GET /api/posts/:id
func (h *PostHandler) Get(c *gin.Context) {
	post, err := h.posts.Get(requestContext(c), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, post)
}

// POST /api/posts
func (h *PostHandler) Create(c *gin.Context) {
	var req createPostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	post, err := h.posts.Create(requestContext(c), middleware.UserID(c), services.CreatePostInput{
		Title:     req.Title,
		Content:   req.Content,
		Published: req.Published,
		Tags:      req.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, post)
}

// PATCH /api/posts/:id
func (h *PostHandler) Update(c *gin.Context) {
	var req updatePostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	post, err := h.posts.Update(requestContext(c), middleware.UserID(c), c.Param("id"), services.UpdatePostInput{
		Title:     req.Title,
		Content:   req.Content,
		Published: req.Published,
		Tags:      req.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, post)
}

// DELETE /api/posts/:id
func (h *PostHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.posts.Delete(requestContext(c), middleware.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": id})
}
