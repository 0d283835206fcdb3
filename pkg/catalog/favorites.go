package catalog

import (
	"context"

	"onebookreader/pkg/apierror"
	"onebookreader/pkg/domain"
	"onebookreader/pkg/querycache"
)

func (s *Service) Favorites(ctx context.Context) ([]domain.Book, error) {
	return querycache.EnsureAs(ctx, s.cache, FavoritesKey, s.backend.ListFavorites)
}

// RefetchFavorites invalidates the favorites list and loads it again.
func (s *Service) RefetchFavorites(ctx context.Context) ([]domain.Book, error) {
	s.cache.Invalidate(FavoritesKey)
	return querycache.FetchAs(ctx, s.cache, FavoritesKey, s.backend.ListFavorites)
}

func (s *Service) FavoritesView() querycache.View[[]domain.Book] {
	return querycache.PeekAs[[]domain.Book](s.cache, FavoritesKey)
}

// AddFavorite marks a book and reloads the favorites list. A failed reload
// is logged; the mutation already happened.
func (s *Service) AddFavorite(ctx context.Context, bookID string) error {
	return s.changeFavorite(ctx, bookID, s.backend.AddFavorite)
}

// RemoveFavorite unmarks a book and reloads the favorites list.
func (s *Service) RemoveFavorite(ctx context.Context, bookID string) error {
	return s.changeFavorite(ctx, bookID, s.backend.RemoveFavorite)
}

func (s *Service) changeFavorite(ctx context.Context, bookID string, mutate func(context.Context, string) error) error {
	bookID, err := requireID("book id", bookID)
	if err != nil {
		return err
	}
	if err := mutate(ctx, bookID); err != nil {
		return err
	}
	if _, err := s.RefetchFavorites(ctx); err != nil {
		s.logger.Warn("reload favorites failed", "book_id", bookID, "kind", apierror.KindOf(err), "err", err)
	}
	return nil
}
