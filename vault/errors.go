package vault

import "errors"

var (
	NoActiveSessionErr = errors.New("no active session to refresh")
)
