package session

import "errors"

var (
	NotAuthenticatedErr = errors.New("not authenticated")
	UnknownModeErr      = errors.New("unknown login mode")
)
