package oauthflow

import "errors"

var (
	InvalidStateErr     = errors.New("invalid or expired state on redirect callback")
	CodeExchangeErr     = errors.New("authorization code exchange failed")
	DeviceExpiredErr    = errors.New("device code expired")
	DeviceDeniedErr     = errors.New("device authorization denied")
	DeviceCancelledErr  = errors.New("device authorization cancelled")
	NoDeviceFlowErr     = errors.New("no device flow in progress")
	DeviceFlowFailedErr = errors.New("device authorization failed")
)
