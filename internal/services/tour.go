package services

import (
	"context"

	"github.com/trailhead-tours/apiserver/types"
)

// TourRepository defines persistence operations for tours.
type TourRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.Tour, int, error)
	Get(ctx context.Context, id int) (types.Tour, error)
	Create(ctx context.Context, tour types.Tour) (types.Tour, error)
	Update(ctx context.Context, tour types.Tour) (types.Tour, error)
	Delete(ctx context.Context, id int) error
}

// TourService encapsulates tour use-cases.
type TourService struct {
	repo TourRepository
}

func NewTourService(repo TourRepository) *TourService {
	return &TourService{repo: repo}
}

func (s *TourService) List(ctx context.Context, offset, limit int) ([]types.Tour, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *TourService) Get(ctx context.Context, id int) (types.Tour, error) {
	return s.repo.Get(ctx, id)
}

func (s *TourService) Create(ctx context.Context, tour types.Tour) (types.Tour, error) {
	return s.repo.Create(ctx, tour)
}

func (s *TourService) Update(ctx context.Context, tour types.Tour) (types.Tour, error) {
	return s.repo.Update(ctx, tour)
}

func (s *TourService) Delete(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}
