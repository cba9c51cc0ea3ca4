package queryHelper

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Pagination holds the parsed page/limit query parameters
type Pagination struct {
	Page  int
	Limit int
}

// Offset returns the row offset for the current page
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePagination reads page/limit query params with sane bounds
func ParsePagination(c *fiber.Ctx) Pagination {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.Query("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return Pagination{Page: page, Limit: limit}
}
