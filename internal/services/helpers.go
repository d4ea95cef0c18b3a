package services

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/postboard/internal/cache"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListOptions controls pagination, search and ordering for list endpoints.
type ListOptions struct {
	Page      int
	PerPage   int
	Search    string
	SortBy    string
	SortOrder string
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// normalise clamps paging and restricts sorting to the allowed columns, so that
// equivalent requests share one cache key.
func (o ListOptions) normalise(sortable ...string) ListOptions {
	if o.Page <= 0 {
		o.Page = 1
	}
	if o.PerPage <= 0 {
		o.PerPage = defaultPerPage
	}
	if o.PerPage > maxPerPage {
		o.PerPage = maxPerPage
	}
	o.Search = strings.Join(strings.Fields(o.Search), " ")

	sortBy := strings.ToLower(strings.TrimSpace(o.SortBy))
	o.SortBy = "created_at"
	for _, column := range sortable {
		if sortBy == column {
			o.SortBy = column
			break
		}
	}
	if strings.EqualFold(strings.TrimSpace(o.SortOrder), "asc") {
		o.SortOrder = "asc"
	} else {
		o.SortOrder = "desc"
	}
	return o
}

func (o ListOptions) cacheQuery(scope string) cache.ListQuery {
	return cache.ListQuery{
		Page:      o.Page,
		Limit:     o.PerPage,
		Search:    o.Search,
		SortBy:    o.SortBy,
		SortOrder: o.SortOrder,
		Scope:     scope,
	}
}

func (o ListOptions) apply(query *gorm.DB) *gorm.DB {
	return query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: o.SortBy}, Desc: o.SortOrder == "desc"}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset((o.Page - 1) * o.PerPage).
		Limit(o.PerPage)
}

func searchPattern(search string) string {
	search = strings.ToLower(search)
	replacer := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + replacer.Replace(search) + "%"
}
