package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/trailhead-tours/apiserver/types"
)

// TourRepository handles persistence for tours.
type TourRepository struct {
	db *sql.DB
}

func NewTourRepository(db *sql.DB) *TourRepository {
	return &TourRepository{db: db}
}

const tourColumns = `id, name, slug, duration, max_group_size, difficulty, price,
	summary, description, image_cover, ratings_average, ratings_quantity, created_at`

func scanTour(row *sql.Row) (types.Tour, error) {
	var tour types.Tour
	err := row.Scan(
		&tour.ID,
		&tour.Name,
		&tour.Slug,
		&tour.Duration,
		&tour.MaxGroupSize,
		&tour.Difficulty,
		&tour.Price,
		&tour.Summary,
		&tour.Description,
		&tour.ImageCover,
		&tour.RatingsAverage,
		&tour.RatingsQuantity,
		&tour.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Tour{}, ErrNotFound
		}
		return types.Tour{}, err
	}
	return tour, nil
}

func (r *TourRepository) List(ctx context.Context, offset, limit int) ([]types.Tour, int, error) {
	const countQuery = `SELECT COUNT(*) FROM tours`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const query = `
		SELECT ` + tourColumns + `
		FROM tours
		ORDER BY id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tours := []types.Tour{}
	for rows.Next() {
		var tour types.Tour
		if err := rows.Scan(
			&tour.ID,
			&tour.Name,
			&tour.Slug,
			&tour.Duration,
			&tour.MaxGroupSize,
			&tour.Difficulty,
			&tour.Price,
			&tour.Summary,
			&tour.Description,
			&tour.ImageCover,
			&tour.RatingsAverage,
			&tour.RatingsQuantity,
			&tour.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		tours = append(tours, tour)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tours, total, nil
}

func (r *TourRepository) Get(ctx context.Context, id int) (types.Tour, error) {
	const query = `
		SELECT ` + tourColumns + `
		FROM tours
		WHERE id = $1`
	return scanTour(r.db.QueryRowContext(ctx, query, id))
}

func (r *TourRepository) Create(ctx context.Context, tour types.Tour) (types.Tour, error) {
	tour.CreatedAt = time.Now()
	if tour.Slug == "" {
		tour.Slug = slugify(tour.Name)
	}
	if tour.RatingsAverage == 0 {
		tour.RatingsAverage = 4.5
	}

	const query = `
		INSERT INTO tours (name, slug, duration, max_group_size, difficulty, price,
			summary, description, image_cover, ratings_average, ratings_quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		tour.Name,
		tour.Slug,
		tour.Duration,
		tour.MaxGroupSize,
		tour.Difficulty,
		tour.Price,
		tour.Summary,
		tour.Description,
		tour.ImageCover,
		tour.RatingsAverage,
		tour.RatingsQuantity,
		tour.CreatedAt,
	).Scan(&tour.ID); err != nil {
		return types.Tour{}, err
	}
	return tour, nil
}

func (r *TourRepository) Update(ctx context.Context, tour types.Tour) (types.Tour, error) {
	const query = `
		UPDATE tours
		SET name = $1,
			slug = $2,
			duration = $3,
			max_group_size = $4,
			difficulty = $5,
			price = $6,
			summary = $7,
			description = $8,
			image_cover = $9
		WHERE id = $10`
	result, err := r.db.ExecContext(
		ctx,
		query,
		tour.Name,
		tour.Slug,
		tour.Duration,
		tour.MaxGroupSize,
		tour.Difficulty,
		tour.Price,
		tour.Summary,
		tour.Description,
		tour.ImageCover,
		tour.ID,
	)
	if err != nil {
		return types.Tour{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Tour{}, err
	}
	if affected == 0 {
		return types.Tour{}, ErrNotFound
	}
	return tour, nil
}

func (r *TourRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM tours WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every tour. Used only by the dev-data import command.
func (r *TourRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tours`)
	return err
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(slug, " ", "-")
}
