// Package domain defines the data types, consumed-contract interfaces, and
// sentinel errors shared across the buxbot packages.
package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownProduct = errors.New("unknown product")
	ErrOrderRejected  = errors.New("order rejected")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrNotConnected   = errors.New("not connected")
)
