package ml

import (
	"fmt"
	"strings"
)

// NetworkError is returned when the request never produced an HTTP response
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}

// StripDataURIPrefix drops everything up to and including the first comma
// of a data URI. Values without a comma, or with nothing after it, are
// returned unchanged.
func StripDataURIPrefix(image string) string {
	if i := strings.IndexByte(image, ','); i >= 0 && i+1 < len(image) {
		return image[i+1:]
	}
	return image
}
