package player

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrManagerClosed    = errors.New("player manager closed")
	ErrHeadlessDisabled = errors.New("headless playback is not enabled")
	ErrLoadInProgress   = errors.New("content load already in progress")
)
