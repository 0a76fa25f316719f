package services

import (
	"context"

	"github.com/trailhead-tours/apiserver/types"
)

// ReviewRepository defines persistence operations for reviews.
type ReviewRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Review, int, error)
	Create(ctx context.Context, review types.Review) (types.Review, error)
}

// ReviewService encapsulates review use-cases.
type ReviewService struct {
	repo ReviewRepository
}

func NewReviewService(repo ReviewRepository) *ReviewService {
	return &ReviewService{repo: repo}
}

func (s *ReviewService) List(ctx context.Context, offset, limit int) ([]types.Review, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *ReviewService) Create(ctx context.Context, review types.Review) (types.Review, error) {
	return s.repo.Create(ctx, review)
}
