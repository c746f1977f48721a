// Package store is the durable record layer for payments, lessons and
// teacher accounts, backed by PocketBase collections. It is the single
// source of truth for the internal settlement status.
package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrStatusConflict is returned by conditional status transitions when
	// the guarded status no longer matches, e.g. a concurrent release run
	// already moved the payment on.
	ErrStatusConflict = errors.New("store: payment status changed concurrently")
)
