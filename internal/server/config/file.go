package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/flagx"
	"github.com/dmitrijs2005/armadillo/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. It is decoded from
// JSON or YAML depending on the file extension and then overlaid onto the
// runtime Config. Zero values leave the current setting untouched.
type FileConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	EndpointAddrGRPC   string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN        string         `json:"database_dsn" yaml:"database_dsn"`
	DataFile           string         `json:"data_file" yaml:"data_file"`
	EnterpriseMode     *bool          `json:"enterprise_mode" yaml:"enterprise_mode"`
	CORSOrigins        []string       `json:"cors_origins" yaml:"cors_origins"`
	SessionSecret      string         `json:"session_secret" yaml:"session_secret"`
	StreamTokenSecret  string         `json:"stream_token_secret" yaml:"stream_token_secret"`
	StreamTokenTTL     timex.Duration `json:"stream_token_ttl" yaml:"stream_token_ttl"`
	IdempotencyTTL     timex.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`
	MaxRequestBytes    int64          `json:"max_request_bytes" yaml:"max_request_bytes"`
	RateLimitWindow    timex.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	RateLimitMax       int            `json:"rate_limit_max" yaml:"rate_limit_max"`
	RateLimitRedisAddr string         `json:"rate_limit_redis_addr" yaml:"rate_limit_redis_addr"`
	EntitlementToken   string         `json:"entitlement_token" yaml:"entitlement_token"`
	EntitlementSecret  string         `json:"entitlement_secret" yaml:"entitlement_secret"`
	S3RootUser         string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region           string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	LogBackend         string         `json:"log_backend" yaml:"log_backend"`
	LogLevel           string         `json:"log_level" yaml:"log_level"`
	LogFormat          string         `json:"log_format" yaml:"log_format"`
}

// parseFile loads configuration values from the file named by -c/-config.
// If no flag is given nothing is loaded. An unreadable or malformed file
// panics, since the process cannot start with a half-applied config.
func parseFile(config *Config) {

	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(config)
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrHTTP, fc.EndpointAddrHTTP)
	setString(&c.EndpointAddrGRPC, fc.EndpointAddrGRPC)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.DataFile, fc.DataFile)
	if fc.EnterpriseMode != nil {
		c.EnterpriseMode = *fc.EnterpriseMode
	}
	if len(fc.CORSOrigins) > 0 {
		c.CORSOrigins = fc.CORSOrigins
	}
	setString(&c.SessionSecret, fc.SessionSecret)
	setString(&c.StreamTokenSecret, fc.StreamTokenSecret)
	if fc.StreamTokenTTL.Duration > 0 {
		c.StreamTokenTTL = fc.StreamTokenTTL.Duration
	}
	if fc.IdempotencyTTL.Duration > 0 {
		c.IdempotencyTTL = fc.IdempotencyTTL.Duration
	}
	if fc.MaxRequestBytes > 0 {
		c.MaxRequestBytes = fc.MaxRequestBytes
	}
	if fc.RateLimitWindow.Duration > 0 {
		c.RateLimitWindow = fc.RateLimitWindow.Duration
	}
	if fc.RateLimitMax > 0 {
		c.RateLimitMax = fc.RateLimitMax
	}
	setString(&c.RateLimitRedisAddr, fc.RateLimitRedisAddr)
	setString(&c.EntitlementToken, fc.EntitlementToken)
	setString(&c.EntitlementSecret, fc.EntitlementSecret)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.LogBackend, fc.LogBackend)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
