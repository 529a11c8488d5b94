package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/okulov/vaultsync/internal/flagx"
	"github.com/okulov/vaultsync/internal/timex"
)

// JsonConfig is the DTO used only for reading JSON configuration files.
// Interval fields use timex.Duration so both "15m" and integer
// nanoseconds parse.
type JsonConfig struct {
	EndpointAddr                 string         `json:"endpoint_addr"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	RememberMeValidityDuration   timex.Duration `json:"remember_me_validity_duration"`
	LockoutThreshold             int            `json:"lockout_threshold"`
	LockoutCooldown              timex.Duration `json:"lockout_cooldown"`
	BlobBackend                  string         `json:"blob_backend"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags, if any. Invalid files panic: a half-applied config is
// worse than not starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.RememberMeValidityDuration = time.Duration(c.RememberMeValidityDuration.Duration)
	if c.LockoutThreshold > 0 {
		config.LockoutThreshold = c.LockoutThreshold
	}
	if c.LockoutCooldown.Duration > 0 {
		config.LockoutCooldown = time.Duration(c.LockoutCooldown.Duration)
	}
	if c.BlobBackend != "" {
		config.BlobBackend = c.BlobBackend
	}
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
