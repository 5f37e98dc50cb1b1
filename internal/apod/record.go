// Package apod holds the image record served by the remote proxy
package apod

import "errors"

// ErrNotFound is returned when no record could be produced for a date,
// either because the upstream failed or the circuit is open.
var ErrNotFound = errors.New("apod not found")

// Record is one Astronomy Picture of the Day entry.
// Records are values; callers get their own copy.
type Record struct {
	ID         string `json:"id"`
	Date       string `json:"dateString"`
	Title      string `json:"title"`
	ImageURLHD string `json:"imageUriHd"`
}

// Request is the body of a POST /apod call.
type Request struct {
	Date string `json:"dateString" validate:"required,datetime=2006-01-02"`
}

// Rating is the averaged rating of one record.
type Rating struct {
	ID     string `json:"id"`
	Rating int    `json:"rating"`
}

// RatingRequest is the body of a PUT /apod/{id}/rating call.
type RatingRequest struct {
	Rating int `json:"rating" validate:"min=1,max=10"`
}

// Error is the JSON error payload returned by the API.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
