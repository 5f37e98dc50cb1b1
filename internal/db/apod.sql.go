package db

import (
	"context"

	"github.com/google/uuid"
)

const apodExists = `-- name: ApodExists :one
SELECT EXISTS(SELECT 1 FROM apod WHERE id = $1)
`

func (q *Queries) ApodExists(ctx context.Context, id uuid.UUID) (bool, error) {
	row := q.db.QueryRow(ctx, apodExists, id)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const createApod = `-- name: CreateApod :one
INSERT INTO apod (id, date_string)
VALUES ($1, $2)
RETURNING id, date_string, created_at
`

type CreateApodParams struct {
	ID         uuid.UUID `json:"id"`
	DateString string    `json:"date_string"`
}

func (q *Queries) CreateApod(ctx context.Context, arg CreateApodParams) (Apod, error) {
	row := q.db.QueryRow(ctx, createApod, arg.ID, arg.DateString)
	var i Apod
	err := row.Scan(&i.ID, &i.DateString, &i.CreatedAt)
	return i, err
}

const getApod = `-- name: GetApod :one
SELECT id, date_string, created_at FROM apod
WHERE id = $1
`

func (q *Queries) GetApod(ctx context.Context, id uuid.UUID) (Apod, error) {
	row := q.db.QueryRow(ctx, getApod, id)
	var i Apod
	err := row.Scan(&i.ID, &i.DateString, &i.CreatedAt)
	return i, err
}

const getApodByDate = `-- name: GetApodByDate :one
SELECT id, date_string, created_at FROM apod
WHERE date_string = $1
`

func (q *Queries) GetApodByDate(ctx context.Context, dateString string) (Apod, error) {
	row := q.db.QueryRow(ctx, getApodByDate, dateString)
	var i Apod
	err := row.Scan(&i.ID, &i.DateString, &i.CreatedAt)
	return i, err
}

const listApods = `-- name: ListApods :many
SELECT id, date_string, created_at FROM apod
ORDER BY created_at, date_string
`

func (q *Queries) ListApods(ctx context.Context) ([]Apod, error) {
	rows, err := q.db.Query(ctx, listApods)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Apod
	for rows.Next() {
		var i Apod
		if err := rows.Scan(&i.ID, &i.DateString, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
