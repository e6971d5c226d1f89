package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string        HTTP bind address (e.g., ":8787")
//	-g string        gRPC health bind address (empty disables)
//	-d string        database DSN (postgres:// or sqlite:)
//	-f string        data file for the flat-file store
//	-enterprise      enable org RBAC on v2 routes
//	-cors string     comma-separated CORS origin allowlist
//	-s string        session token HMAC secret
//	-ss string       stream token HMAC secret
//	-st duration     stream token lifetime
//	-it duration     idempotency key lifetime
//	-m int           max request body bytes
//	-rw duration     rate limit window
//	-rm int          rate limit ceiling per window
//	-redis string    Redis address for the shared rate table
//	-u / -p string   S3 access key / secret
//	-b string        S3 bucket (empty keeps blob ciphertext inline)
//	-r string        S3 region
//	-e string        S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the -c/-config flag.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-d", "-f", "-enterprise", "-cors", "-s", "-ss", "-st", "-it",
		"-m", "-rw", "-rm", "-redis", "-u", "-p", "-b", "-r", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP API")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run the gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DataFile, "f", config.DataFile, "data file for flat-file mode")
	fs.BoolVar(&config.EnterpriseMode, "enterprise", config.EnterpriseMode, "enforce org RBAC on v2 routes")
	cors := fs.String("cors", strings.Join(config.CORSOrigins, ","), "comma-separated CORS origins")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session token secret")
	fs.StringVar(&config.StreamTokenSecret, "ss", config.StreamTokenSecret, "stream token secret")
	fs.DurationVar(&config.StreamTokenTTL, "st", config.StreamTokenTTL, "stream token validity")
	fs.DurationVar(&config.IdempotencyTTL, "it", config.IdempotencyTTL, "idempotency key validity")
	fs.Int64Var(&config.MaxRequestBytes, "m", config.MaxRequestBytes, "max request body bytes")
	fs.DurationVar(&config.RateLimitWindow, "rw", config.RateLimitWindow, "rate limit window")
	fs.IntVar(&config.RateLimitMax, "rm", config.RateLimitMax, "rate limit max requests per window")
	fs.StringVar(&config.RateLimitRedisAddr, "redis", config.RateLimitRedisAddr, "redis address for rate limiting")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "r", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.CORSOrigins = splitList(*cors)
}
