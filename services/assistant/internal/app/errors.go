package app

import (
	"errors"

	"lumosai/pkg/telemetry"
)

var (
	// ErrInvalidInput is returned before any I/O for malformed requests.
	ErrInvalidInput      = errors.New("invalid input")
	ErrAssistantNotFound = errors.New("assistant not found")
	// ErrProcessing covers provider and persistence failures of a turn.
	ErrProcessing    = errors.New("failed to process message")
	ErrInvalidWindow = telemetry.ErrInvalidWindow
	ErrUnauthorized  = errors.New("unauthorized")
)
