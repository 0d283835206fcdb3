package reviews

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"onebookreader/pkg/catalog"
)

// DependentView is a cached view that embeds data derived from a book's
// reviews. Awaited views are refetched before a mutation returns; the rest
// only have their cache entries under Prefix invalidated.
type DependentView struct {
	Name    string
	Await   bool
	Refetch func(ctx context.Context, bookID string) error
	Prefix  string
}

func (v DependentView) validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("dependent view requires a name")
	}
	if v.Await && v.Refetch == nil {
		return fmt.Errorf("dependent view %s: awaited views require Refetch", v.Name)
	}
	if !v.Await && v.Prefix == "" {
		return fmt.Errorf("dependent view %s: requires a cache prefix", v.Name)
	}
	return nil
}

// Registry is the set of views a review mutation must bring up to date.
// A new view that shows review counts or ratings registers here once.
type Registry struct {
	mu    sync.RWMutex
	views []DependentView
}

func NewRegistry(views ...DependentView) (*Registry, error) {
	r := &Registry{}
	for _, v := range views {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(v DependentView) error {
	if err := v.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.views {
		if existing.Name == v.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateView, v.Name)
		}
	}
	r.views = append(r.views, v)
	return nil
}

// Views returns the registered views in registration order.
func (r *Registry) Views() []DependentView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DependentView(nil), r.views...)
}

// DefaultViews are the views of the reading app that embed review data: the
// book's review list and its detail record (average rating, review count)
// are refetched; the books list and favorites, whose entries carry the same
// aggregates, are invalidated.
func DefaultViews(cat *catalog.Service) []DependentView {
	return []DependentView{
		{
			Name:  "review-list",
			Await: true,
			Refetch: func(ctx context.Context, bookID string) error {
				_, err := cat.RefetchReviews(ctx, bookID)
				return err
			},
		},
		{
			Name:  "book-detail",
			Await: true,
			Refetch: func(ctx context.Context, bookID string) error {
				_, err := cat.RefetchBook(ctx, bookID)
				return err
			},
		},
		{Name: "books-list", Prefix: catalog.BooksPrefix},
		{Name: "favorites", Prefix: catalog.FavoritesKey},
	}
}
