package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/trailhead-tours/apiserver/types"
)

// BookingRepository handles persistence for bookings.
type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) Create(ctx context.Context, booking types.Booking) (types.Booking, error) {
	booking.CreatedAt = time.Now()

	const query = `
		INSERT INTO bookings (reference, tour_id, user_id, price, paid, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		booking.Reference,
		booking.TourID,
		booking.UserID,
		booking.Price,
		booking.Paid,
		booking.CreatedAt,
	).Scan(&booking.ID); err != nil {
		return types.Booking{}, err
	}
	return booking, nil
}

func (r *BookingRepository) ListByUser(ctx context.Context, userID int) ([]types.Booking, error) {
	const query = `
		SELECT id, reference, tour_id, user_id, price, paid, created_at
		FROM bookings
		WHERE user_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []types.Booking{}
	for rows.Next() {
		var booking types.Booking
		if err := rows.Scan(
			&booking.ID,
			&booking.Reference,
			&booking.TourID,
			&booking.UserID,
			&booking.Price,
			&booking.Paid,
			&booking.CreatedAt,
		); err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}
