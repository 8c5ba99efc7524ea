package bitable

import "errors"

var (
	// ErrAuth indicates the tenant access token exchange failed.
	ErrAuth = errors.New("bitable token exchange failed")

	// ErrQuery indicates a record search failed or the store reported
	// a non-zero status code for it.
	ErrQuery = errors.New("bitable record search failed")

	// ErrWrite indicates a record create or update failed.
	ErrWrite = errors.New("bitable record write failed")
)
