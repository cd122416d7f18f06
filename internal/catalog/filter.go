package catalog

import (
	"strings"

	"beanpos/backend/internal/domain"
)

// CategoryAll matches every category in a filter query.
const CategoryAll = "All"

// Filter returns the products matching a category and a case-insensitive
// free-text name query. Empty query and CategoryAll are both pass-through.
func Filter(products []domain.Product, category string, query string) []domain.Product {
	query = strings.ToLower(strings.TrimSpace(query))

	result := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if category != "" && category != CategoryAll && p.Category != category {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// Categories enumerates "All" plus each distinct category in listing order.
func Categories(products []domain.Product) []string {
	seen := make(map[string]struct{}, len(products))
	categories := make([]string, 0, len(products)+1)
	categories = append(categories, CategoryAll)
	for _, p := range products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	return categories
}
