package types

import "time"

// Tour represents a bookable tour.
type Tour struct {
	ID              int       `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Slug            string    `json:"slug" db:"slug"`
	Duration        int       `json:"duration" db:"duration"`
	MaxGroupSize    int       `json:"maxGroupSize" db:"max_group_size"`
	Difficulty      string    `json:"difficulty" db:"difficulty"`
	Price           float64   `json:"price" db:"price"`
	Summary         string    `json:"summary" db:"summary"`
	Description     string    `json:"description,omitempty" db:"description"`
	ImageCover      string    `json:"imageCover,omitempty" db:"image_cover"`
	RatingsAverage  float64   `json:"ratingsAverage" db:"ratings_average"`
	RatingsQuantity int       `json:"ratingsQuantity" db:"ratings_quantity"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
