package db

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Apod struct {
	ID         uuid.UUID          `json:"id"`
	DateString string             `json:"date_string"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

type Rating struct {
	ID     int64     `json:"id"`
	Value  int32     `json:"value"`
	ApodID uuid.UUID `json:"apod_id"`
}
