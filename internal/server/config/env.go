package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/timex"
)

// lookupEnv is a seam for tests.
var lookupEnv = os.LookupEnv

// parseEnv overlays settings from environment variables. Malformed numeric,
// boolean or duration values panic, matching the file loader.
func parseEnv(c *Config) {
	envString(&c.EndpointAddrHTTP, "ARMADILLO_HTTP_ADDR")
	if port, ok := env("PORT"); ok {
		c.EndpointAddrHTTP = ":" + port
	}
	envString(&c.EndpointAddrGRPC, "ARMADILLO_GRPC_ADDR")
	envString(&c.DatabaseDSN, "DATABASE_URL")
	envString(&c.DataFile, "ARMADILLO_DATA_FILE")

	if v, ok := env("ARMADILLO_ENTERPRISE_MODE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(fmt.Errorf("ARMADILLO_ENTERPRISE_MODE: %w", err))
		}
		c.EnterpriseMode = b
	}
	if v, ok := env("ARMADILLO_CORS_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}

	envString(&c.SessionSecret, "ARMADILLO_SESSION_SECRET")
	envString(&c.StreamTokenSecret, "ARMADILLO_STREAM_TOKEN_SECRET")
	envDuration(&c.StreamTokenTTL, "ARMADILLO_STREAM_TOKEN_TTL")
	envDuration(&c.IdempotencyTTL, "ARMADILLO_IDEMPOTENCY_TTL")

	if v, ok := env("ARMADILLO_MAX_REQUEST_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(fmt.Errorf("ARMADILLO_MAX_REQUEST_BYTES: %w", err))
		}
		c.MaxRequestBytes = n
	}
	envDuration(&c.RateLimitWindow, "ARMADILLO_RATE_LIMIT_WINDOW")
	if v, ok := env("ARMADILLO_RATE_LIMIT_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(fmt.Errorf("ARMADILLO_RATE_LIMIT_MAX: %w", err))
		}
		c.RateLimitMax = n
	}
	envString(&c.RateLimitRedisAddr, "ARMADILLO_RATE_LIMIT_REDIS_ADDR")

	envString(&c.EntitlementToken, "ARMADILLO_ENTITLEMENT_TOKEN")
	envString(&c.EntitlementSecret, "ARMADILLO_ENTITLEMENT_SECRET")

	envString(&c.S3RootUser, "ARMADILLO_S3_ROOT_USER")
	envString(&c.S3RootPassword, "ARMADILLO_S3_ROOT_PASSWORD")
	envString(&c.S3Bucket, "ARMADILLO_S3_BUCKET")
	envString(&c.S3Region, "ARMADILLO_S3_REGION")
	envString(&c.S3BaseEndpoint, "ARMADILLO_S3_BASE_ENDPOINT")

	envString(&c.LogBackend, "ARMADILLO_LOG_BACKEND")
	envString(&c.LogLevel, "ARMADILLO_LOG_LEVEL")
	envString(&c.LogFormat, "ARMADILLO_LOG_FORMAT")
}

func env(key string) (string, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func envString(dst *string, key string) {
	if v, ok := env(key); ok {
		*dst = v
	}
}

func envDuration(dst *time.Duration, key string) {
	if v, ok := env(key); ok {
		d, err := timex.ParseDuration(v)
		if err != nil {
			panic(fmt.Errorf("%s: %w", key, err))
		}
		*dst = d
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
