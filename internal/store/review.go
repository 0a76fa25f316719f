package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/trailhead-tours/apiserver/types"
)

// ErrDuplicateReview is returned when a user reviews the same tour twice.
var ErrDuplicateReview = errors.New("tour already reviewed by this user")

// ReviewRepository handles persistence for reviews.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

func (r *ReviewRepository) List(ctx context.Context, offset, limit int) ([]types.Review, int, error) {
	const countQuery = `SELECT COUNT(*) FROM reviews`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT id, review, rating, tour_id, user_id, created_at
		FROM reviews
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reviews := []types.Review{}
	for rows.Next() {
		var review types.Review
		if err := rows.Scan(
			&review.ID,
			&review.Review,
			&review.Rating,
			&review.TourID,
			&review.UserID,
			&review.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return reviews, total, nil
}

func (r *ReviewRepository) Create(ctx context.Context, review types.Review) (types.Review, error) {
	review.CreatedAt = time.Now()

	const query = `
		INSERT INTO reviews (review, rating, tour_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		review.Review,
		review.Rating,
		review.TourID,
		review.UserID,
		review.CreatedAt,
	).Scan(&review.ID); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Review{}, ErrDuplicateReview
		}
		return types.Review{}, err
	}
	return review, nil
}
