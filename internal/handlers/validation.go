package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/postboard/internal/services"
	appErrors "github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/response"
	appValidator "github.com/charlesng35/postboard/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	return validate(c, dest)
}

// bindQuery binds and validates query-string parameters into dest.
func bindQuery[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid query parameters"))
		return false
	}
	return validate(c, dest)
}

func validate(c *gin.Context, dest any) bool {
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	if err == nil {
		return "invalid request payload"
	}

	if ve, ok := err.(appValidator.ValidationErrors); ok {
		if len(ve) == 0 {
			return "invalid request payload"
		}

		messages := make([]string, 0, len(ve))
		for _, failure := range ve {
			field := prettifyFieldName(failure.Field)
			switch failure.Tag {
			case "required", "notblank":
				messages = append(messages, fmt.Sprintf("%s is required", field))
			case "email":
				messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", field, failure.Param))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", field, failure.Param))
			case "sortorder":
				messages = append(messages, fmt.Sprintf("%s must be asc or desc", field))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, failure.Param))
			default:
				if failure.Param != "" {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
				} else {
					messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
				}
			}
		}
		return strings.Join(messages, "; ")
	}

	return "invalid request payload"
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}

// listQuery holds the paging, search and ordering parameters shared by list endpoints.
type listQuery struct {
	Page      int    `form:"page" json:"page" validate:"omitempty,min=1"`
	PerPage   int    `form:"per_page" json:"per_page" validate:"omitempty,min=1,max=100"`
	Search    string `form:"search" json:"search" validate:"max=100"`
	SortBy    string `form:"sort_by" json:"sort_by" validate:"omitempty,max=32"`
	SortOrder string `form:"sort_order" json:"sort_order" validate:"sortorder"`
}

func (q listQuery) options() services.ListOptions {
	return services.ListOptions{
		Page:      q.Page,
		PerPage:   q.PerPage,
		Search:    q.Search,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	}
}
