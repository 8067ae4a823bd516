package domain

import "errors"

var (
	// ErrInvalidInput is returned when an argument fails validation (empty descriptor, zero price)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a token id is outside [0, totalSupply) or content does not exist
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when the caller does not own the token
	ErrNotOwner = errors.New("not owner")

	// ErrNotListed is returned when the token has no active listing
	ErrNotListed = errors.New("not listed")

	// ErrWrongValue is returned when the payment does not equal the listing price
	ErrWrongValue = errors.New("wrong value")

	// ErrPaymentFailed is returned when forwarding proceeds to the seller fails
	ErrPaymentFailed = errors.New("payment failed")

	// ErrNotAuthorized is returned when a mutating call has no caller identity
	ErrNotAuthorized = errors.New("not authorized")

	// ErrUnreachable is returned when content could not be fetched
	ErrUnreachable = errors.New("content unreachable")

	// ErrMalformedContent is returned when content was fetched but could not be parsed
	ErrMalformedContent = errors.New("malformed content")

	// ErrUploadFailed is returned when pinning an asset fails
	ErrUploadFailed = errors.New("upload failed")

	// ErrSubscriptionFailed is returned when subscription to events fails
	ErrSubscriptionFailed = errors.New("subscription failed")
)
