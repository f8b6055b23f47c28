package cnst

const (
	// AppName is the canonical application name used in logs and metrics
	AppName = "lumimeds-realtime"

	// CfgFallbackDir is the system-wide configuration directory
	CfgFallbackDir = "/etc/lumimeds"

	// DefaultPageLimit is the page size used when a stream does not configure one
	DefaultPageLimit = 20
)
