package service

import (
	"errors"

	"eshop-service/internal/store"
)

// ErrorKind classifies service errors for callers such as the HTTP layer
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindInsufficientStock
	KindStore
)

// Error is returned by every service operation that fails
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrFieldsRequired        = &Error{Kind: KindValidation, Message: "All fields are required"}
	ErrProductFieldsRequired = &Error{Kind: KindValidation, Message: "Name, price, and stock are required"}
	ErrQuantityOutOfRange    = &Error{Kind: KindValidation, Message: "Quantity is out of range"}
	ErrInvalidStatus         = &Error{Kind: KindValidation, Message: "Invalid status"}
	ErrProductNotFound       = &Error{Kind: KindNotFound, Message: "Product not found"}
	ErrOrderNotFound         = &Error{Kind: KindNotFound, Message: "Order not found"}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock, Message: "Insufficient stock"}
)

// storeError wraps a persistence failure; its message is passed through
// verbatim
func storeError(err error) error {
	return &Error{Kind: KindStore, Message: err.Error(), Err: err}
}

// asServiceError keeps service errors as they are and wraps anything else
// as a store error
func asServiceError(err error) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	return storeError(err)
}

// lookupError maps a store read error onto notFound or a store error
func lookupError(err error, notFound *Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return storeError(err)
}

// KindOf reports the kind of err, or KindStore for foreign errors
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindStore
}
