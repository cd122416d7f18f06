package catalog

import (
	"testing"

	"beanpos/backend/internal/domain"
)

var sample = []domain.Product{
	{ID: "p-1", Name: "Espresso", Category: "Coffee"},
	{ID: "p-2", Name: "Iced Coffee", Category: "Coffee"},
	{ID: "p-3", Name: "Croissant", Category: "Pastry"},
	{ID: "p-4", Name: "Green Tea", Category: "Tea"},
}

func TestFilterByCategory(t *testing.T) {
	got := Filter(sample, "Coffee", "")
	if len(got) != 2 {
		t.Fatalf("got %d products, want 2", len(got))
	}
	if got[0].ID != "p-1" || got[1].ID != "p-2" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestFilterQueryIsCaseInsensitive(t *testing.T) {
	got := Filter(sample, CategoryAll, "cOfF")
	if len(got) != 1 || got[0].ID != "p-2" {
		t.Fatalf("expected Iced Coffee only, got %v", got)
	}
}

func TestFilterCombinesCategoryAndQuery(t *testing.T) {
	got := Filter(sample, "Tea", "green")
	if len(got) != 1 || got[0].ID != "p-4" {
		t.Fatalf("expected Green Tea, got %v", got)
	}
	if got := Filter(sample, "Coffee", "croissant"); len(got) != 0 {
		t.Fatalf("category and query must both match, got %v", got)
	}
}

func TestFilterEmptyFiltersPassThrough(t *testing.T) {
	if got := Filter(sample, "", ""); len(got) != len(sample) {
		t.Fatalf("got %d products, want %d", len(got), len(sample))
	}
}

func TestCategoriesDistinctInListingOrder(t *testing.T) {
	got := Categories(sample)
	want := []string{"All", "Coffee", "Pastry", "Tea"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
