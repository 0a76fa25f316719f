package types

import "time"

// Booking records a paid reservation of a tour by a user.
type Booking struct {
	ID        int       `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"`
	TourID    int       `json:"tour_id" db:"tour_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Price     float64   `json:"price" db:"price"`
	Paid      bool      `json:"paid" db:"paid"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
