package robinhood

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when Robinhood responds with HTTP 401.
var ErrUnauthorized = errors.New("robinhood: unauthorized")

// APIError is returned when Robinhood responds with a status >= 300 and a
// JSON body of the form {"detail": "..."}.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("robinhood: api error (status %d): %s", e.Status, e.Detail)
}

// TransportError is returned when Robinhood's response can't be parsed as
// JSON, or parses but doesn't fit the expected success shape.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("robinhood: transport error (status %d): %s", e.Status, e.Body)
}
