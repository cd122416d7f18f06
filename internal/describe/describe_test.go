package describe

import (
	"context"
	"errors"
	"testing"
	"time"

	"beanpos/backend/internal/domain"
)

type fakeGenerator struct {
	calls int
	fail  bool
}

func (f *fakeGenerator) Generate(_ context.Context, productName string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("model unavailable")
	}
	return "Rich and bold " + productName + ".", nil
}

func (f *fakeGenerator) Close() error { return nil }

type mapCache map[string]string

func (m mapCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapCache) Set(_ context.Context, key string, description string, _ time.Duration) error {
	m[key] = description
	return nil
}

func TestDescribeCachesGeneratedCopy(t *testing.T) {
	gen := &fakeGenerator{}
	engine := NewEngine(gen, mapCache{}, time.Hour, nil)
	product := domain.Product{ID: "p-1", Name: "Espresso"}

	first := engine.Describe(context.Background(), product)
	if first.Cached {
		t.Fatalf("first call should not be cached")
	}
	if first.Description != "Rich and bold Espresso." {
		t.Fatalf("description = %q", first.Description)
	}

	second := engine.Describe(context.Background(), product)
	if !second.Cached {
		t.Fatalf("second call should hit the cache")
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}
}

func TestDescribeFallsBackToPlaceholder(t *testing.T) {
	var reported error
	engine := NewEngine(&fakeGenerator{fail: true}, mapCache{}, time.Hour, func(_ string, err error) {
		reported = err
	})

	resp := engine.Describe(context.Background(), domain.Product{ID: "p-1", Name: "Espresso"})
	if resp.Description != Placeholder {
		t.Fatalf("description = %q, want placeholder", resp.Description)
	}
	if reported == nil {
		t.Fatalf("failure not reported")
	}
}

func TestDescribeWithoutGenerator(t *testing.T) {
	engine := NewEngine(nil, nil, 0, nil)

	resp := engine.Describe(context.Background(), domain.Product{ID: "p-1", Name: "Espresso"})
	if resp.Description != Placeholder {
		t.Fatalf("description = %q, want placeholder", resp.Description)
	}
}
