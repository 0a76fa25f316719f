package types

import "time"

// Review is a user's rating of a tour. A user can review a tour once.
type Review struct {
	ID        int       `json:"id" db:"id"`
	Review    string    `json:"review" db:"review"`
	Rating    int       `json:"rating" db:"rating"`
	TourID    int       `json:"tour_id" db:"tour_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
