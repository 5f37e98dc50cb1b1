package db

import (
	"context"

	"github.com/google/uuid"
)

const createRating = `-- name: CreateRating :exec
INSERT INTO rating (value, apod_id)
VALUES ($1, $2)
`

type CreateRatingParams struct {
	Value  int32     `json:"value"`
	ApodID uuid.UUID `json:"apod_id"`
}

func (q *Queries) CreateRating(ctx context.Context, arg CreateRatingParams) error {
	_, err := q.db.Exec(ctx, createRating, arg.Value, arg.ApodID)
	return err
}

const getAverageRating = `-- name: GetAverageRating :one
SELECT apod_id, CAST(ROUND(AVG(value)) AS integer) AS rating
FROM rating
WHERE apod_id = $1
GROUP BY apod_id
`

type GetAverageRatingRow struct {
	ApodID uuid.UUID `json:"apod_id"`
	Rating int32     `json:"rating"`
}

func (q *Queries) GetAverageRating(ctx context.Context, apodID uuid.UUID) (GetAverageRatingRow, error) {
	row := q.db.QueryRow(ctx, getAverageRating, apodID)
	var i GetAverageRatingRow
	err := row.Scan(&i.ApodID, &i.Rating)
	return i, err
}
