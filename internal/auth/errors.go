package auth

import "errors"

var (
	// ErrMissingCredential is returned when no bearer credential was supplied.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrMalformedCredential is returned when the credential cannot be parsed
	// or its signature does not verify.
	ErrMalformedCredential = errors.New("auth: malformed credential")
	// ErrExpiredCredential is returned when the expiry claim has passed.
	ErrExpiredCredential = errors.New("auth: credential expired")
	// ErrIncompleteCredential is returned when subject, tenant or role claims
	// are missing.
	ErrIncompleteCredential = errors.New("auth: required claims missing")
)
