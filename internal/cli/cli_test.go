package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"onebookreader/internal/app"
	"onebookreader/internal/config"
	"onebookreader/pkg/credstore"
	"onebookreader/pkg/domain"
)

type fakeServer struct {
	mu        sync.Mutex
	users     map[string]domain.User
	books     map[string]domain.Book
	reviews   map[string]domain.Review
	favorites map[string]bool
	nextID    int
}

func lapsedToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-carol",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs := &fakeServer{
		users: map[string]domain.User{
			"tok-alice":    {ID: "u-alice", Name: "Alice", Email: "alice@example.com"},
			"tok-bob":      {ID: "u-bob", Name: "Bob", Email: "bob@example.com"},
			lapsedToken(t): {ID: "u-carol", Name: "Carol", Email: "carol@example.com"},
		},
		books: map[string]domain.Book{
			"b-1": {ID: "b-1", Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction"},
			"b-2": {ID: "b-2", Title: "Emma", Author: "Jane Austen"},
		},
		reviews: map[string]domain.Review{
			"r-1": {ID: "r-1", BookID: "b-1", UserID: "u-bob", UserName: "Bob", Rating: 4, Content: "Spice everywhere"},
		},
		favorites: map[string]bool{},
		nextID:    1,
	}
	fs.recompute("b-1")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", fs.login)
	mux.HandleFunc("GET /auth/me", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		writeData(w, http.StatusOK, u)
	}))
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	mux.HandleFunc("GET /books", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		page := domain.BookPage{Page: 1, Limit: 20}
		for _, id := range []string{"b-1", "b-2"} {
			page.Books = append(page.Books, fs.books[id])
		}
		page.Total = len(page.Books)
		writeData(w, http.StatusOK, page)
	})
	mux.HandleFunc("GET /books/{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		b, ok := fs.books[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, "Book not found")
			return
		}
		writeData(w, http.StatusOK, b)
	})
	mux.HandleFunc("GET /reviews", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		writeData(w, http.StatusOK, fs.reviewsOf(r.URL.Query().Get("bookId")))
	})
	mux.HandleFunc("GET /reviews/{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		rev, ok := fs.reviews[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, "Review not found")
			return
		}
		writeData(w, http.StatusOK, rev)
	})
	mux.HandleFunc("POST /reviews", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		var in domain.ReviewInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		fs.mu.Lock()
		defer fs.mu.Unlock()
		rev := domain.Review{ID: fmt.Sprintf("r-new-%d", fs.nextID), BookID: in.BookID, UserID: u.ID, UserName: u.Name, Rating: in.Rating, Content: in.Content}
		fs.nextID++
		fs.reviews[rev.ID] = rev
		fs.recompute(in.BookID)
		writeData(w, http.StatusCreated, rev)
	}))
	mux.HandleFunc("DELETE /reviews/{id}", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		rev, ok := fs.reviews[r.PathValue("id")]
		if !ok {
			writeError(w, http.StatusNotFound, "Review not found")
			return
		}
		delete(fs.reviews, rev.ID)
		fs.recompute(rev.BookID)
		writeData(w, http.StatusOK, nil)
	}))
	mux.HandleFunc("GET /recommendations", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		writeData(w, http.StatusOK, []domain.Recommendation{{Book: fs.books["b-2"], Reason: "Readers of Dune also liked"}})
	}))
	mux.HandleFunc("DELETE /recommendations/cache", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		writeData(w, http.StatusOK, nil)
	}))
	mux.HandleFunc("GET /favorites", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		books := []domain.Book{}
		for id := range fs.favorites {
			books = append(books, fs.books[id])
		}
		writeData(w, http.StatusOK, books)
	}))
	mux.HandleFunc("POST /favorites/{bookId}", fs.authed(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.favorites[r.PathValue("bookId")] = true
		writeData(w, http.StatusOK, nil)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (fs *fakeServer) login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	_ = json.NewDecoder(r.Body).Decode(&creds)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for token, u := range fs.users {
		if u.Email == creds.Email && creds.Password == "secret" {
			writeData(w, http.StatusOK, domain.AuthResult{Token: token, User: u})
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "Invalid email or password")
}

func (fs *fakeServer) authed(next func(http.ResponseWriter, *http.Request, domain.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		fs.mu.Lock()
		u, ok := fs.users[token]
		fs.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "Please log in")
			return
		}
		next(w, r, u)
	}
}

func (fs *fakeServer) reviewsOf(bookID string) []domain.Review {
	out := []domain.Review{}
	for _, rev := range fs.reviews {
		if rev.BookID == bookID {
			out = append(out, rev)
		}
	}
	return out
}

func (fs *fakeServer) recompute(bookID string) {
	b := fs.books[bookID]
	revs := fs.reviewsOf(bookID)
	sum := 0
	for _, rev := range revs {
		sum += rev.Rating
	}
	b.ReviewCount = len(revs)
	b.AverageRating = 0
	if len(revs) > 0 {
		b.AverageRating = math.Round(float64(sum)/float64(len(revs))*100) / 100
	}
	fs.books[bookID] = b
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": map[string]string{"message": msg}})
}

// testFactory shares one credential store across command runs, the way a
// real store persists between invocations.
func testFactory(baseURL string, store credstore.Store) AppFactory {
	return func(cmd *cobra.Command) (*app.App, error) {
		settings := config.Config{
			APIBaseURL:      baseURL,
			LogLevel:        "error",
			RequestTimeout:  2 * time.Second,
			CredentialStore: credstore.Config{Driver: credstore.DriverMemory},
			Session:         config.SessionConfig{ValidationTimeout: time.Second},
			Recommendations: config.RecommendationSettings{
				StaleTime:       10 * time.Minute,
				CacheTime:       30 * time.Minute,
				MaxRetries:      0,
				RetryBaseDelay:  time.Millisecond,
				RetryMaxDelay:   time.Millisecond,
				BreakerFailures: 5,
				BreakerCooldown: time.Minute,
			},
		}
		return app.New(app.Config{Settings: settings, Store: store})
	}
}

func newTestRoot(t *testing.T) (*httptest.Server, credstore.Store) {
	t.Helper()
	srv := newFakeServer(t)
	return srv, credstore.NewMemoryStore()
}

func executeCommand(factory AppFactory, args ...string) (string, string, error) {
	root := NewRootCmd(factory)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not an ExitError", err)
	}
	return ee.Code
}

func login(t *testing.T, factory AppFactory, email string) {
	t.Helper()
	if _, _, err := executeCommand(factory, "login", "--email", email, "--password", "secret"); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)

	out, _, err := executeCommand(factory, "login", "--email", "alice@example.com", "--password", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Logged in as Alice <alice@example.com>") {
		t.Fatalf("login output = %q", out)
	}

	out, _, err = executeCommand(factory, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "Alice <alice@example.com>") {
		t.Fatalf("whoami output = %q", out)
	}

	if _, _, err := executeCommand(factory, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, _, err = executeCommand(factory, "whoami")
	if code := exitCode(t, err); code != exitAuth {
		t.Fatalf("whoami after logout exit = %d, want %d", code, exitAuth)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, store := newTestRoot(t)
	_, _, err := executeCommand(testFactory(srv.URL, store), "login", "--email", "alice@example.com", "--password", "nope")
	if code := exitCode(t, err); code != exitAuth {
		t.Fatalf("exit = %d, want %d", code, exitAuth)
	}
	if err.Error() != "Invalid email or password" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestLoginRequiresPassword(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	srv, store := newTestRoot(t)
	_, _, err := executeCommand(testFactory(srv.URL, store), "login", "--email", "alice@example.com")
	if code := exitCode(t, err); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestRecsRequireLogin(t *testing.T) {
	srv, store := newTestRoot(t)
	_, _, err := executeCommand(testFactory(srv.URL, store), "recs")
	if code := exitCode(t, err); code != exitAuth {
		t.Fatalf("exit = %d, want %d", code, exitAuth)
	}
}

func TestRecsJSONAndRefreshFlags(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)
	login(t, factory, "alice@example.com")

	out, _, err := executeCommand(factory, "recs", "--json")
	if err != nil {
		t.Fatalf("recs: %v", err)
	}
	var recs []domain.Recommendation
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode recs: %v (%q)", err, out)
	}
	if len(recs) != 1 || recs[0].Book.Title != "Emma" {
		t.Fatalf("recs = %+v", recs)
	}

	out, _, err = executeCommand(factory, "recs", "--force")
	if err != nil {
		t.Fatalf("recs --force: %v", err)
	}
	if !strings.Contains(out, "1. Emma by Jane Austen") {
		t.Fatalf("recs output = %q", out)
	}

	if _, _, err := executeCommand(factory, "recs", "--refresh", "--force"); err == nil {
		t.Fatalf("expected --refresh and --force to be mutually exclusive")
	}
}

func TestBooksBookAndReviews(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)

	out, _, err := executeCommand(factory, "books")
	if err != nil {
		t.Fatalf("books: %v", err)
	}
	if !strings.Contains(out, "Dune") || !strings.Contains(out, "2 books total") {
		t.Fatalf("books output = %q", out)
	}

	out, _, err = executeCommand(factory, "book", "b-1")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !strings.Contains(out, "Dune by Frank Herbert") || !strings.Contains(out, "Rating: 4.00 (1 reviews)") {
		t.Fatalf("book output = %q", out)
	}

	out, _, err = executeCommand(factory, "reviews", "b-1")
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if !strings.Contains(out, "Spice everywhere") || !strings.Contains(out, "****.") {
		t.Fatalf("reviews output = %q", out)
	}

	_, _, err = executeCommand(factory, "book", "missing")
	if code := exitCode(t, err); code != exitNotFound {
		t.Fatalf("missing book exit = %d, want %d", code, exitNotFound)
	}
}

func TestReviewCreateAndDelete(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)
	login(t, factory, "alice@example.com")

	out, _, err := executeCommand(factory, "review", "create", "b-1", "--rating", "2", "--content", "Too much sand")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "Created review r-new-1") {
		t.Fatalf("create output = %q", out)
	}

	out, _, err = executeCommand(factory, "book", "b-1", "--json")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	var book domain.Book
	if err := json.Unmarshal([]byte(out), &book); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if book.ReviewCount != 2 || book.AverageRating != 3 {
		t.Fatalf("book after create = %d reviews, avg %.2f", book.ReviewCount, book.AverageRating)
	}

	_, _, err = executeCommand(factory, "review", "delete", "r-1")
	if code := exitCode(t, err); code != exitPermission {
		t.Fatalf("delete other's review exit = %d, want %d", code, exitPermission)
	}

	out, _, err = executeCommand(factory, "review", "delete", "r-new-1")
	if err != nil {
		t.Fatalf("delete own review: %v", err)
	}
	if !strings.Contains(out, "Deleted review r-new-1") {
		t.Fatalf("delete output = %q", out)
	}
}

func TestReviewValidation(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)
	login(t, factory, "alice@example.com")

	_, _, err := executeCommand(factory, "review", "create", "b-1", "--rating", "9")
	if code := exitCode(t, err); code != exitUsage {
		t.Fatalf("bad rating exit = %d, want %d", code, exitUsage)
	}
	_, _, err = executeCommand(factory, "review", "update", "r-1")
	if code := exitCode(t, err); code != exitUsage {
		t.Fatalf("empty patch exit = %d, want %d", code, exitUsage)
	}
}

func TestFavoritesAdd(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)
	login(t, factory, "bob@example.com")

	out, _, err := executeCommand(factory, "favorites", "add", "b-2")
	if err != nil {
		t.Fatalf("favorites add: %v", err)
	}
	if !strings.Contains(out, "Added b-2.") {
		t.Fatalf("add output = %q", out)
	}
	out, _, err = executeCommand(factory, "favorites")
	if err != nil {
		t.Fatalf("favorites: %v", err)
	}
	if !strings.Contains(out, "Emma") {
		t.Fatalf("favorites output = %q", out)
	}
}

func TestWhoamiLabelsLapsedSession(t *testing.T) {
	srv, store := newTestRoot(t)
	factory := testFactory(srv.URL, store)
	login(t, factory, "carol@example.com")

	out, _, err := executeCommand(factory, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "Carol <carol@example.com>") || !strings.Contains(out, "Session expired") {
		t.Fatalf("whoami output = %q", out)
	}
}

// corruptStore fails to read the stored user until credentials are rewritten.
type corruptStore struct {
	credstore.Store
	mu      sync.Mutex
	corrupt bool
}

func (s *corruptStore) User(ctx context.Context) (domain.User, bool, error) {
	s.mu.Lock()
	corrupt := s.corrupt
	s.mu.Unlock()
	if corrupt {
		return domain.User{}, false, errors.New("decode user: invalid character 'n' looking for beginning of object key string")
	}
	return s.Store.User(ctx)
}

func (s *corruptStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.corrupt = false
	s.mu.Unlock()
	return s.Store.Clear(ctx)
}

func TestCorruptStoredSessionDoesNotBlockCommands(t *testing.T) {
	srv := newFakeServer(t)
	inner := credstore.NewMemoryStore()
	if err := inner.Set(context.Background(), "tok-alice", domain.User{ID: "u-alice"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := &corruptStore{Store: inner, corrupt: true}
	factory := testFactory(srv.URL, store)

	if _, _, err := executeCommand(factory, "logout"); err != nil {
		t.Fatalf("logout with corrupt session: %v", err)
	}
	store.mu.Lock()
	store.corrupt = true
	store.mu.Unlock()
	out, _, err := executeCommand(factory, "login", "--email", "alice@example.com", "--password", "secret")
	if err != nil {
		t.Fatalf("login with corrupt session: %v", err)
	}
	if !strings.Contains(out, "Logged in as Alice") {
		t.Fatalf("login output = %q", out)
	}
	if _, _, err := executeCommand(factory, "whoami"); err != nil {
		t.Fatalf("whoami after recovery: %v", err)
	}
}
