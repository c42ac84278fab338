package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// duration parses YAML values like "30m" or "24h".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrap(err, "[config] parse duration")
	}
	*d = duration(parsed)
	return nil
}

// fileValues is the YAML shape of an optional config file. Zero values fall
// back to the env-var/default configuration.
type fileValues struct {
	AppName    string `yaml:"app_name"`
	Origin     string `yaml:"origin"`
	StorageDir string `yaml:"storage_dir"`

	OAuth struct {
		Issuer       string   `yaml:"issuer"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
		CallbackPort int      `yaml:"callback_port"`
		StateTimeout duration `yaml:"state_timeout"`
	} `yaml:"oauth"`

	Session struct {
		Timeout           duration `yaml:"timeout"`
		StaleCeiling      duration `yaml:"stale_ceiling"`
		CleanupInterval   duration `yaml:"cleanup_interval"`
		CountdownInterval duration `yaml:"countdown_interval"`
	} `yaml:"session"`
}

type fileConfig struct {
	mainConfig
	values fileValues
}

var _ Config = fileConfig{}

// FromFile loads configuration from a YAML file, with env vars and built-in
// defaults filling anything the file leaves unset.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "[config.FromFile] read file")
	}

	var values fileValues
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "[config.FromFile] parse yaml")
	}

	return fileConfig{values: values}, nil
}

func (c fileConfig) GetAppName() string {
	if c.values.AppName != "" {
		return c.values.AppName
	}
	return c.mainConfig.GetAppName()
}

func (c fileConfig) GetOrigin() string {
	if c.values.Origin != "" {
		return c.values.Origin
	}
	return c.mainConfig.GetOrigin()
}

func (c fileConfig) GetStorageDir() string {
	if c.values.StorageDir != "" {
		return c.values.StorageDir
	}
	return c.mainConfig.GetStorageDir()
}

func (c fileConfig) GetIssuer() string {
	if c.values.OAuth.Issuer != "" {
		return c.values.OAuth.Issuer
	}
	return c.mainConfig.GetIssuer()
}

func (c fileConfig) GetClientID() string {
	if c.values.OAuth.ClientID != "" {
		return c.values.OAuth.ClientID
	}
	return c.mainConfig.GetClientID()
}

func (c fileConfig) GetClientSecret() string {
	if c.values.OAuth.ClientSecret != "" {
		return c.values.OAuth.ClientSecret
	}
	return c.mainConfig.GetClientSecret()
}

func (c fileConfig) GetScopes() []string {
	if len(c.values.OAuth.Scopes) > 0 {
		return c.values.OAuth.Scopes
	}
	return c.mainConfig.GetScopes()
}

func (c fileConfig) GetCallbackPort() int {
	if c.values.OAuth.CallbackPort > 0 {
		return c.values.OAuth.CallbackPort
	}
	return c.mainConfig.GetCallbackPort()
}

func (c fileConfig) GetStateTimeout() time.Duration {
	if c.values.OAuth.StateTimeout > 0 {
		return time.Duration(c.values.OAuth.StateTimeout)
	}
	return c.mainConfig.GetStateTimeout()
}

func (c fileConfig) GetSessionTimeout() time.Duration {
	if c.values.Session.Timeout > 0 {
		return time.Duration(c.values.Session.Timeout)
	}
	return c.mainConfig.GetSessionTimeout()
}

func (c fileConfig) GetStaleCeiling() time.Duration {
	if c.values.Session.StaleCeiling > 0 {
		return time.Duration(c.values.Session.StaleCeiling)
	}
	return c.mainConfig.GetStaleCeiling()
}

func (c fileConfig) GetCleanupInterval() time.Duration {
	if c.values.Session.CleanupInterval > 0 {
		return time.Duration(c.values.Session.CleanupInterval)
	}
	return c.mainConfig.GetCleanupInterval()
}

func (c fileConfig) GetCountdownInterval() time.Duration {
	if c.values.Session.CountdownInterval > 0 {
		return time.Duration(c.values.Session.CountdownInterval)
	}
	return c.mainConfig.GetCountdownInterval()
}
