package config

import "time"

type SessionConfig interface {
	GetSessionTimeout() time.Duration
	GetStaleCeiling() time.Duration
	GetCleanupInterval() time.Duration
	GetCountdownInterval() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetSessionTimeout() time.Duration {
	return 30 * time.Minute // Sessions expire after 30 minutes
}

// GetStaleCeiling is the absolute age limit for an envelope, enforced
// independently of the rolling timeout.
func (Session) GetStaleCeiling() time.Duration {
	return 24 * time.Hour
}

func (Session) GetCleanupInterval() time.Duration {
	return 1 * time.Minute
}

func (Session) GetCountdownInterval() time.Duration {
	return 1 * time.Second
}
