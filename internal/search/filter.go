// Package search implements the directory filter.
package search

import (
	"slices"
	"strings"

	"github.com/ashureev/connectwise-ai/internal/domain"
	"github.com/samber/lo"
)

// Filter returns the companies whose name, description or industry contains
// query, compared case-insensitively, in their original order. A blank query
// returns every company. The input slice is never modified.
func Filter(companies []*domain.Company, query string) []*domain.Company {
	if strings.TrimSpace(query) == "" {
		return slices.Clone(companies)
	}

	needle := strings.ToLower(query)
	return lo.Filter(companies, func(c *domain.Company, _ int) bool {
		return matches(c, needle)
	})
}

// matches reports whether needle, already lower-cased, occurs in any
// searchable field.
func matches(c *domain.Company, needle string) bool {
	return strings.Contains(strings.ToLower(c.Name), needle) ||
		strings.Contains(strings.ToLower(c.Description), needle) ||
		strings.Contains(strings.ToLower(c.Industry), needle)
}
