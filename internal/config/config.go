package config

type Config interface {
	EnvConfig
	OAuthConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetOrigin() string
	GetStorageDir() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Session
}

func New() Config {
	return mainConfig{}
}
