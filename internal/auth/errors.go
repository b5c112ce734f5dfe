package auth

import "errors"

var (
	// ErrInvalidInput marks malformed addresses or missing verification fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is the single outcome callers see for any rejected login.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNonceInvalidOrExpired means no live nonce matched the address.
	ErrNonceInvalidOrExpired = errors.New("nonce invalid or expired")
	// ErrSignatureVerificationFailed covers malformed signatures and address mismatches.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)
