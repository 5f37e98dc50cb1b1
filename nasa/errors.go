// Package nasa is a client for the NASA Astronomy Picture of the Day API.
package nasa

import "fmt"

// Kind classifies why a fetch failed.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindUnavailable
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by Client.Fetch for every failed request.
type UpstreamError struct {
	Kind   Kind
	Status int // HTTP status, zero when no response was received
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("nasa upstream %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("nasa upstream %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
