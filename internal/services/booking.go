package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/trailhead-tours/apiserver/internal/events"
	"github.com/trailhead-tours/apiserver/types"
)

// BookingRepository defines persistence operations for bookings.
type BookingRepository interface {
	Create(ctx context.Context, booking types.Booking) (types.Booking, error)
	ListByUser(ctx context.Context, userID int) ([]types.Booking, error)
}

// BookingService encapsulates booking use-cases.
type BookingService struct {
	repo BookingRepository
	bus  *events.Bus
}

func NewBookingService(repo BookingRepository, bus *events.Bus) *BookingService {
	return &BookingService{repo: repo, bus: bus}
}

// Create records a paid booking and announces it on the event bus.
func (s *BookingService) Create(ctx context.Context, tourID, userID int, price float64) (types.Booking, error) {
	booking := types.Booking{
		Reference: uuid.NewString(),
		TourID:    tourID,
		UserID:    userID,
		Price:     price,
		Paid:      true,
	}
	created, err := s.repo.Create(ctx, booking)
	if err != nil {
		return types.Booking{}, err
	}
	if s.bus != nil {
		s.bus.BookingCreated(ctx, created)
	}
	return created, nil
}

func (s *BookingService) ListByUser(ctx context.Context, userID int) ([]types.Booking, error) {
	return s.repo.ListByUser(ctx, userID)
}
