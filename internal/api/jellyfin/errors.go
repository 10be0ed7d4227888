package jellyfin

import (
	"errors"
	"fmt"
)

// AuthError indicates the server rejected the API key (401/403).
// Fatal for every further operation against that server.
type AuthError struct {
	Server string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected by %s (status %d): check the API key", e.Server, e.Status)
}

// NetworkError indicates a connection failure or timeout. Recoverable at
// the per-item level; the caller decides whether to move on.
type NetworkError struct {
	Server string
	Op     string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not reach %s during %s: %v", e.Server, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NotFoundError indicates the item disappeared between the existence
// check and the write
type NotFoundError struct {
	ItemID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found on destination", e.ItemID)
}

// ConflictError indicates a user name already exists on the server
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user %q already exists", e.Name)
}

// ValidationError indicates the server refused a user name as illegal
type ValidationError struct {
	Name   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("user name %q rejected: %s", e.Name, e.Detail)
	}
	return fmt.Sprintf("user name %q rejected by server", e.Name)
}

// statusError covers unexpected HTTP statuses that fit no other category
type statusError struct {
	Op     string
	Status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d", e.Op, e.Status)
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNotFound reports whether err is an item-not-found condition
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsNetwork reports whether err is a connectivity or timeout failure
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
