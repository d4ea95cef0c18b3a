package cache

import (
	"fmt"
	"strings"
)

// Logical key prefixes used by the cache-aside layer.
const (
	PrefixUsers = "users"
	PrefixUser  = "user"
	PrefixPosts = "posts"
	PrefixPost  = "post"
)

// ListQuery holds the parameters that shape a cached list response. Identical logical
// queries must produce identical keys.
type ListQuery struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
	// Scope narrows the list to an owner, e.g. a user ID for a user's posts. Empty means all.
	Scope string
}

// ListKey builds the deterministic cache key for a list query under a logical prefix.
func ListKey(prefix string, q ListQuery) string {
	scope := strings.TrimSpace(q.Scope)
	if scope == "" {
		scope = "all"
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	sortBy := strings.ToLower(strings.TrimSpace(q.SortBy))
	if sortBy == "" {
		sortBy = "created_at"
	}
	order := strings.ToLower(strings.TrimSpace(q.SortOrder))
	if order != "asc" {
		order = "desc"
	}
	search := strings.ToLower(strings.Join(strings.Fields(q.Search), " "))

	return fmt.Sprintf("%s:list:scope=%s:page=%d:limit=%d:search=%s:sort=%s:%s",
		prefix, scope, page, q.Limit, search, sortBy, order)
}

// EntityKey builds the cache key for a single entity.
func EntityKey(prefix, id string) string {
	return prefix + ":" + strings.TrimSpace(id)
}
