package catalog

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"onebookreader/pkg/apierror"
	"onebookreader/pkg/domain"
	"onebookreader/pkg/querycache"
)

type fakeBackend struct {
	mu         sync.Mutex
	books      map[string]domain.Book
	reviews    map[string][]domain.Review
	favorites  []string
	bookCalls  int32
	favFailure error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		books: map[string]domain.Book{
			"b-1": {ID: "b-1", Title: "Dune", AverageRating: 4.5, ReviewCount: 2},
			"b-2": {ID: "b-2", Title: "Emma", AverageRating: 3, ReviewCount: 1},
		},
		reviews: map[string][]domain.Review{
			"b-1": {
				{ID: "r-1", BookID: "b-1", UserID: "u-1", Rating: 5},
				{ID: "r-2", BookID: "b-1", UserID: "u-2", Rating: 4},
			},
		},
	}
}

func (f *fakeBackend) GetBook(_ context.Context, id string) (domain.Book, error) {
	atomic.AddInt32(&f.bookCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return domain.Book{}, apierror.FromStatus(http.StatusNotFound, "", "book not found")
	}
	return b, nil
}

func (f *fakeBackend) ListBooks(_ context.Context, page, limit int) (domain.BookPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := domain.BookPage{Page: page, Limit: limit, Total: len(f.books)}
	for _, id := range []string{"b-1", "b-2"} {
		out.Books = append(out.Books, f.books[id])
	}
	return out, nil
}

func (f *fakeBackend) ListReviews(_ context.Context, bookID string) ([]domain.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Review(nil), f.reviews[bookID]...), nil
}

func (f *fakeBackend) ListFavorites(context.Context) ([]domain.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Book, 0, len(f.favorites))
	for _, id := range f.favorites {
		out = append(out, f.books[id])
	}
	return out, nil
}

func (f *fakeBackend) AddFavorite(_ context.Context, bookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.favFailure != nil {
		return f.favFailure
	}
	f.favorites = append(f.favorites, bookID)
	return nil
}

func (f *fakeBackend) RemoveFavorite(_ context.Context, bookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.favorites[:0]
	for _, id := range f.favorites {
		if id != bookID {
			kept = append(kept, id)
		}
	}
	f.favorites = kept
	return nil
}

func TestKeys(t *testing.T) {
	if got := BooksKey(0, 0); got != "books:1:20" {
		t.Fatalf("BooksKey defaults = %q", got)
	}
	if got := BookKey("b-1"); got != "book:b-1" {
		t.Fatalf("BookKey = %q", got)
	}
	if got := ReviewsKey("b-1"); got != "reviews-of-book:b-1" {
		t.Fatalf("ReviewsKey = %q", got)
	}
}

func TestBookIsCachedUntilRefetched(t *testing.T) {
	backend := newFakeBackend()
	svc := New(querycache.New(querycache.Options{}), backend, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Book(context.Background(), "b-1"); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	if got := atomic.LoadInt32(&backend.bookCalls); got != 1 {
		t.Fatalf("book calls = %d, want 1", got)
	}

	backend.mu.Lock()
	b := backend.books["b-1"]
	b.ReviewCount = 3
	backend.books["b-1"] = b
	backend.mu.Unlock()

	book, err := svc.RefetchBook(context.Background(), "b-1")
	if err != nil || book.ReviewCount != 3 {
		t.Fatalf("refetch = %+v, %v", book, err)
	}
	if view := svc.BookView("b-1"); view.Status != querycache.StatusSuccess || view.Data.ReviewCount != 3 {
		t.Fatalf("view = %+v", view)
	}
}

func TestBookValidationAndNotFound(t *testing.T) {
	svc := New(querycache.New(querycache.Options{}), newFakeBackend(), nil)
	if _, err := svc.Book(context.Background(), "  "); !apierror.Is(err, apierror.KindValidation) {
		t.Fatalf("blank id err = %v", err)
	}
	if _, err := svc.Book(context.Background(), "missing"); !apierror.Is(err, apierror.KindNotFound) {
		t.Fatalf("missing book err = %v", err)
	}
	if view := svc.BookView("missing"); !view.IsError() {
		t.Fatalf("view should be in error state, got %+v", view)
	}
}

func TestBooksAndReviews(t *testing.T) {
	svc := New(querycache.New(querycache.Options{}), newFakeBackend(), nil)
	page, err := svc.Books(context.Background(), 0, 0)
	if err != nil || len(page.Books) != 2 || page.Limit != DefaultLimit {
		t.Fatalf("books = %+v, %v", page, err)
	}
	if view := svc.BooksView(1, 20); !view.HasData {
		t.Fatalf("books view should be cached under normalized key")
	}

	reviews, err := svc.Reviews(context.Background(), "b-1")
	if err != nil || len(reviews) != 2 {
		t.Fatalf("reviews = %+v, %v", reviews, err)
	}
	r, ok := svc.FindReview("r-2")
	if !ok || r.UserID != "u-2" || r.BookID != "b-1" {
		t.Fatalf("find review = %+v, %v", r, ok)
	}
	if _, ok := svc.FindReview("r-9"); ok {
		t.Fatalf("unknown review should not be found")
	}
}

func TestFavoritesReloadAfterChange(t *testing.T) {
	backend := newFakeBackend()
	svc := New(querycache.New(querycache.Options{}), backend, nil)

	favs, err := svc.Favorites(context.Background())
	if err != nil || len(favs) != 0 {
		t.Fatalf("favorites = %+v, %v", favs, err)
	}
	if err := svc.AddFavorite(context.Background(), "b-2"); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	if view := svc.FavoritesView(); len(view.Data) != 1 || view.Data[0].ID != "b-2" {
		t.Fatalf("favorites view = %+v", view)
	}
	if err := svc.RemoveFavorite(context.Background(), "b-2"); err != nil {
		t.Fatalf("remove favorite: %v", err)
	}
	if view := svc.FavoritesView(); len(view.Data) != 0 {
		t.Fatalf("favorites view = %+v", view)
	}
}

func TestFavoriteFailureLeavesListUntouched(t *testing.T) {
	backend := newFakeBackend()
	svc := New(querycache.New(querycache.Options{}), backend, nil)
	if _, err := svc.Favorites(context.Background()); err != nil {
		t.Fatalf("favorites: %v", err)
	}
	backend.favFailure = apierror.FromStatus(http.StatusUnauthorized, "", "login required")

	if err := svc.AddFavorite(context.Background(), "b-1"); !apierror.Is(err, apierror.KindAuthenticationRequired) {
		t.Fatalf("err = %v", err)
	}
	if view := svc.FavoritesView(); view.Stale {
		t.Fatalf("failed mutation must not invalidate favorites")
	}
}
