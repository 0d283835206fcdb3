// Package catalog serves the read-side views (book detail, books list, a
// book's reviews, favorites) through the shared query cache.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"onebookreader/pkg/domain"
	"onebookreader/pkg/querycache"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// Cache key layout.
const (
	BooksPrefix   = "books:"
	ReviewsPrefix = "reviews-of-book:"
	FavoritesKey  = "favorites"
	bookPrefix    = "book:"
)

func BookKey(id string) string { return bookPrefix + id }

func BooksKey(page, limit int) string {
	page, limit = normalizePage(page, limit)
	return fmt.Sprintf("%s%d:%d", BooksPrefix, page, limit)
}

func ReviewsKey(bookID string) string { return ReviewsPrefix + bookID }

// Backend is the subset of the API the catalog reads from.
type Backend interface {
	GetBook(ctx context.Context, id string) (domain.Book, error)
	ListBooks(ctx context.Context, page, limit int) (domain.BookPage, error)
	ListReviews(ctx context.Context, bookID string) ([]domain.Review, error)
	ListFavorites(ctx context.Context) ([]domain.Book, error)
	AddFavorite(ctx context.Context, bookID string) error
	RemoveFavorite(ctx context.Context, bookID string) error
}

// Service is safe for concurrent use.
type Service struct {
	cache   *querycache.Cache
	backend Backend
	logger  *slog.Logger
}

func New(cache *querycache.Cache, backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, backend: backend, logger: logger}
}

// Cache exposes the underlying query cache.
func (s *Service) Cache() *querycache.Cache {
	return s.cache
}

func (s *Service) Book(ctx context.Context, id string) (domain.Book, error) {
	id, err := requireID("book id", id)
	if err != nil {
		return domain.Book{}, err
	}
	return querycache.EnsureAs(ctx, s.cache, BookKey(id), s.loadBook(id))
}

// RefetchBook invalidates the book detail and loads it again.
func (s *Service) RefetchBook(ctx context.Context, id string) (domain.Book, error) {
	id, err := requireID("book id", id)
	if err != nil {
		return domain.Book{}, err
	}
	s.cache.Invalidate(BookKey(id))
	return querycache.FetchAs(ctx, s.cache, BookKey(id), s.loadBook(id))
}

func (s *Service) BookView(id string) querycache.View[domain.Book] {
	return querycache.PeekAs[domain.Book](s.cache, BookKey(id))
}

func (s *Service) loadBook(id string) func(context.Context) (domain.Book, error) {
	return func(ctx context.Context) (domain.Book, error) {
		return s.backend.GetBook(ctx, id)
	}
}

func (s *Service) Books(ctx context.Context, page, limit int) (domain.BookPage, error) {
	page, limit = normalizePage(page, limit)
	return querycache.EnsureAs(ctx, s.cache, BooksKey(page, limit), func(ctx context.Context) (domain.BookPage, error) {
		return s.backend.ListBooks(ctx, page, limit)
	})
}

func (s *Service) BooksView(page, limit int) querycache.View[domain.BookPage] {
	return querycache.PeekAs[domain.BookPage](s.cache, BooksKey(page, limit))
}

func (s *Service) Reviews(ctx context.Context, bookID string) ([]domain.Review, error) {
	bookID, err := requireID("book id", bookID)
	if err != nil {
		return nil, err
	}
	return querycache.EnsureAs(ctx, s.cache, ReviewsKey(bookID), s.loadReviews(bookID))
}

// RefetchReviews invalidates a book's review list and loads it again.
func (s *Service) RefetchReviews(ctx context.Context, bookID string) ([]domain.Review, error) {
	bookID, err := requireID("book id", bookID)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ReviewsKey(bookID))
	return querycache.FetchAs(ctx, s.cache, ReviewsKey(bookID), s.loadReviews(bookID))
}

func (s *Service) ReviewsView(bookID string) querycache.View[[]domain.Review] {
	return querycache.PeekAs[[]domain.Review](s.cache, ReviewsKey(bookID))
}

func (s *Service) loadReviews(bookID string) func(context.Context) ([]domain.Review, error) {
	return func(ctx context.Context) ([]domain.Review, error) {
		return s.backend.ListReviews(ctx, bookID)
	}
}

// FindReview looks a review up in the cached review lists.
func (s *Service) FindReview(reviewID string) (domain.Review, bool) {
	for _, key := range s.cache.Keys(ReviewsPrefix) {
		view := querycache.PeekAs[[]domain.Review](s.cache, key)
		if !view.HasData {
			continue
		}
		for _, r := range view.Data {
			if r.ID == reviewID {
				return r, true
			}
		}
	}
	return domain.Review{}, false
}
