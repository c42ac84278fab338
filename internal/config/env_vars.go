package config

import (
	"os"
	"path/filepath"
)

const (
	appNameVar    = "APP_NAME"
	originVar     = "SESSION_ORIGIN"
	storageDirVar = "SESSION_STORAGE_DIR"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Vault")
}

// GetOrigin returns the identity the vault binds envelopes to. Envelopes
// created under a different origin are discarded on read.
func (EnvVars) GetOrigin() string {
	if origin := GetEnv(originVar, ""); origin != "" {
		return origin
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return hostname
}

func (EnvVars) GetStorageDir() string {
	if dir := GetEnv(storageDirVar, ""); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.session-vault"
	}
	return filepath.Join(home, ".config", "session-vault")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
