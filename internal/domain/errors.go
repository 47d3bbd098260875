package domain

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrNotSessionCreator   = errors.New("only the session creator can do that")
	ErrSessionNotOpen      = errors.New("session is not open")
	ErrInsufficientTokens  = errors.New("insufficient tokens")
	ErrJoinRejected        = errors.New("join rejected")
	ErrLeaveRejected       = errors.New("leave rejected")
	ErrInvalidSessionType  = errors.New("invalid session type")
	ErrInvalidSessionInput = errors.New("invalid session input")
)
