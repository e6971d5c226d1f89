package common

// Request headers understood by the gateway.
const (
	OwnerHintHeaderName      = "x-armadillo-owner"
	OrgHeaderName            = "x-armadillo-org"
	AuthorizationHeaderName  = "Authorization"
	IdempotencyKeyHeaderName = "Idempotency-Key"
	RequestIDHeaderName      = "X-Request-Id"
)

// Owner id prefixes. See identity.NormalizeOwnerHint.
const (
	OwnerPrefixUser = "user:"
	OwnerPrefixAnon = "anon:"
)

// StreamTokenQueryParam carries the stream token on the SSE route, since
// EventSource clients cannot set headers.
const StreamTokenQueryParam = "streamToken"
