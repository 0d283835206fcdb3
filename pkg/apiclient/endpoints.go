package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"onebookreader/pkg/domain"
)

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error) {
	var res domain.AuthResult
	err := c.doJSON(ctx, call{method: http.MethodPost, endpoint: "POST /auth/login", path: "/auth/login", payload: creds}, &res)
	return res, err
}

// Register creates an account and returns its first session token.
func (c *Client) Register(ctx context.Context, profile domain.Profile) (domain.AuthResult, error) {
	var res domain.AuthResult
	err := c.doJSON(ctx, call{method: http.MethodPost, endpoint: "POST /auth/register", path: "/auth/register", payload: profile}, &res)
	return res, err
}

// Me validates token and returns the server's canonical user record.
func (c *Client) Me(ctx context.Context, token string) (domain.User, error) {
	var user domain.User
	err := c.doJSON(ctx, call{method: http.MethodGet, endpoint: "GET /auth/me", path: "/auth/me", token: token}, &user)
	return user, err
}

// Logout notifies the server that token is no longer in use.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.doJSON(ctx, call{method: http.MethodPost, endpoint: "POST /auth/logout", path: "/auth/logout", token: token}, nil)
}

func (c *Client) GetRecommendations(ctx context.Context) ([]domain.Recommendation, error) {
	var recs []domain.Recommendation
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /recommendations", "/recommendations", nil), &recs)
	return recs, err
}

// ClearRecommendationCache drops the server-side recommendation cache for
// the current user.
func (c *Client) ClearRecommendationCache(ctx context.Context) error {
	return c.doJSON(ctx, c.authed(http.MethodDelete, "DELETE /recommendations/cache", "/recommendations/cache", nil), nil)
}

func (c *Client) GetBook(ctx context.Context, id string) (domain.Book, error) {
	var book domain.Book
	path := fmt.Sprintf("/books/%s", url.PathEscape(id))
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /books/:id", path, nil), &book)
	return book, err
}

func (c *Client) ListBooks(ctx context.Context, page, limit int) (domain.BookPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res domain.BookPage
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /books", path, nil), &res)
	return res, err
}

func (c *Client) ListReviews(ctx context.Context, bookID string) ([]domain.Review, error) {
	var reviews []domain.Review
	path := "/reviews?" + url.Values{"bookId": {bookID}}.Encode()
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /reviews", path, nil), &reviews)
	return reviews, err
}

func (c *Client) GetReview(ctx context.Context, id string) (domain.Review, error) {
	var review domain.Review
	path := fmt.Sprintf("/reviews/%s", url.PathEscape(id))
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /reviews/:id", path, nil), &review)
	return review, err
}

func (c *Client) CreateReview(ctx context.Context, in domain.ReviewInput) (domain.Review, error) {
	var review domain.Review
	err := c.doJSON(ctx, c.authed(http.MethodPost, "POST /reviews", "/reviews", in), &review)
	return review, err
}

func (c *Client) UpdateReview(ctx context.Context, id string, patch domain.ReviewPatch) (domain.Review, error) {
	var review domain.Review
	path := fmt.Sprintf("/reviews/%s", url.PathEscape(id))
	err := c.doJSON(ctx, c.authed(http.MethodPatch, "PATCH /reviews/:id", path, patch), &review)
	return review, err
}

func (c *Client) DeleteReview(ctx context.Context, id string) error {
	path := fmt.Sprintf("/reviews/%s", url.PathEscape(id))
	return c.doJSON(ctx, c.authed(http.MethodDelete, "DELETE /reviews/:id", path, nil), nil)
}

func (c *Client) ListFavorites(ctx context.Context) ([]domain.Book, error) {
	var books []domain.Book
	err := c.doJSON(ctx, c.authed(http.MethodGet, "GET /favorites", "/favorites", nil), &books)
	return books, err
}

func (c *Client) AddFavorite(ctx context.Context, bookID string) error {
	path := fmt.Sprintf("/favorites/%s", url.PathEscape(bookID))
	return c.doJSON(ctx, c.authed(http.MethodPost, "POST /favorites/:bookId", path, nil), nil)
}

func (c *Client) RemoveFavorite(ctx context.Context, bookID string) error {
	path := fmt.Sprintf("/favorites/%s", url.PathEscape(bookID))
	return c.doJSON(ctx, c.authed(http.MethodDelete, "DELETE /favorites/:bookId", path, nil), nil)
}
