package service

import (
	"errors"
	"fmt"
)

var (
	// ErrCartNotFound is returned by GetCart when the user has no cart.
	// Reads never create one.
	ErrCartNotFound = errors.New("cart not found")
	// ErrEmptyCart is returned by RemoveItems when the user has no cart or
	// the cart holds no line items.
	ErrEmptyCart = errors.New("cart is empty")
)

// ValidationError reports a missing or malformed input field. It maps to a
// client fault at the transport layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
