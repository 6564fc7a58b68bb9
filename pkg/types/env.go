package types

type EnvName string

const (
	EnvProd  = EnvName("prod")
	EnvDev   = EnvName("dev")
	EnvLocal = EnvName("local")
)

type ctxKey string

// SessionIdKey tags a context with the owning route session id for log fields.
const SessionIdKey = ctxKey("sessionId")
