// Package reviews coordinates review mutations with the views that depend on
// them. A mutation call returns only after the awaited dependent views have
// been refetched, so callers can trust what those views show afterwards.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"onebookreader/pkg/apierror"
	"onebookreader/pkg/catalog"
	"onebookreader/pkg/domain"
)

// Backend is the subset of the API used for review mutations.
type Backend interface {
	GetReview(ctx context.Context, id string) (domain.Review, error)
	CreateReview(ctx context.Context, in domain.ReviewInput) (domain.Review, error)
	UpdateReview(ctx context.Context, id string, patch domain.ReviewPatch) (domain.Review, error)
	DeleteReview(ctx context.Context, id string) error
}

// Identity reports the signed-in user.
type Identity interface {
	CurrentUser() (domain.User, bool)
}

type Config struct {
	Backend  Backend
	Identity Identity
	Catalog  *catalog.Service
	// Registry defaults to DefaultViews of Catalog.
	Registry *Registry
	Logger   *slog.Logger
}

// Outcome is the result of a successful mutation. RefreshErr is set when
// the mutation went through but a dependent view could not be reloaded; the
// caller should offer a manual reload rather than report a failed edit.
type Outcome struct {
	Review     domain.Review
	RefreshErr error
}

type Coordinator struct {
	backend  Backend
	identity Identity
	catalog  *catalog.Service
	registry *Registry
	logger   *slog.Logger
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil || cfg.Identity == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("review coordinator requires backend, identity and catalog")
	}
	registry := cfg.Registry
	if registry == nil {
		var err error
		registry, err = NewRegistry(DefaultViews(cfg.Catalog)...)
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		backend:  cfg.Backend,
		identity: cfg.Identity,
		catalog:  cfg.Catalog,
		registry: registry,
		logger:   logger,
	}, nil
}

// Registry returns the dependent-view registry so further views can join.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) CreateReview(ctx context.Context, bookID string, rating int, content string) (Outcome, error) {
	if _, err := c.currentUser(); err != nil {
		return Outcome{}, err
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Outcome{}, apierror.New(apierror.KindValidation, "book id is required")
	}
	if !domain.ValidRating(rating) {
		return Outcome{}, ratingError()
	}

	review, err := c.backend.CreateReview(ctx, domain.ReviewInput{BookID: bookID, Rating: rating, Content: content})
	if err != nil {
		return Outcome{}, err
	}
	if review.BookID == "" {
		review.BookID = bookID
	}
	return Outcome{Review: review, RefreshErr: c.refreshDependents(ctx, bookID)}, nil
}

// UpdateReview applies patch to a review owned by the caller.
func (c *Coordinator) UpdateReview(ctx context.Context, reviewID string, patch domain.ReviewPatch) (Outcome, error) {
	if patch.Empty() {
		return Outcome{}, apierror.New(apierror.KindValidation, "nothing to update")
	}
	if patch.Rating != nil && !domain.ValidRating(*patch.Rating) {
		return Outcome{}, ratingError()
	}
	existing, err := c.ownedReview(ctx, reviewID)
	if err != nil {
		return Outcome{}, err
	}

	updated, err := c.backend.UpdateReview(ctx, existing.ID, patch)
	if err != nil {
		return Outcome{}, err
	}
	if updated.BookID == "" {
		updated.BookID = existing.BookID
	}
	return Outcome{Review: updated, RefreshErr: c.refreshDependents(ctx, existing.BookID)}, nil
}

// DeleteReview removes a review owned by the caller. The returned Outcome
// carries the review as it was before deletion.
func (c *Coordinator) DeleteReview(ctx context.Context, reviewID string) (Outcome, error) {
	existing, err := c.ownedReview(ctx, reviewID)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.backend.DeleteReview(ctx, existing.ID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Review: existing, RefreshErr: c.refreshDependents(ctx, existing.BookID)}, nil
}

func (c *Coordinator) currentUser() (domain.User, error) {
	user, ok := c.identity.CurrentUser()
	if !ok {
		return domain.User{}, &apierror.Error{
			Kind:    apierror.KindAuthenticationRequired,
			Code:    "anonymous",
			Message: "Sign in to manage your reviews.",
		}
	}
	return user, nil
}

// ownedReview resolves reviewID, from the cached review lists when possible,
// and checks that the caller wrote it. A review that does not exist is
// NotFound; one written by someone else is PermissionDenied.
func (c *Coordinator) ownedReview(ctx context.Context, reviewID string) (domain.Review, error) {
	user, err := c.currentUser()
	if err != nil {
		return domain.Review{}, err
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, apierror.New(apierror.KindValidation, "review id is required")
	}
	review, ok := c.catalog.FindReview(reviewID)
	if !ok {
		review, err = c.backend.GetReview(ctx, reviewID)
		if err != nil {
			return domain.Review{}, err
		}
	}
	if review.UserID != user.ID {
		c.logger.Info("review mutation rejected", "review_id", reviewID, "user_id", user.ID, "reason", "not owner")
		return domain.Review{}, &apierror.Error{
			Kind:    apierror.KindPermissionDenied,
			Code:    "not_owner",
			Message: "You can only change your own reviews.",
		}
	}
	return review, nil
}

// refreshDependents brings every registered view up to date for bookID.
// Invalidate-only views are marked first; awaited views are then refetched
// concurrently and all of them settle before it returns.
func (c *Coordinator) refreshDependents(ctx context.Context, bookID string) error {
	views := c.registry.Views()
	cache := c.catalog.Cache()

	var awaited []DependentView
	for _, v := range views {
		if v.Await {
			awaited = append(awaited, v)
			continue
		}
		cache.InvalidatePrefix(v.Prefix)
	}

	errs := make([]error, len(awaited))
	var g errgroup.Group
	for i, v := range awaited {
		g.Go(func() error {
			if err := v.Refetch(ctx, bookID); err != nil {
				errs[i] = fmt.Errorf("refresh %s: %w", v.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("dependent view refresh failed", "book_id", bookID, "err", err)
	}
	return err
}

func ratingError() error {
	return apierror.New(apierror.KindValidation,
		fmt.Sprintf("rating must be between %d and %d", domain.MinRating, domain.MaxRating))
}
