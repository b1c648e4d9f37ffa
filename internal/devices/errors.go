package devices

import "fmt"

// AuthError is returned when the device API answers with anything but 200.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("device API request failed: %d - %s", e.StatusCode, e.Body)
}

// TransportError is returned when the device API cannot be reached.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("device API %s unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
