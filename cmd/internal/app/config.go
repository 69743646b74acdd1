package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// If true, BOOKSHELF_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh hashes are keyed.
	RequireTokenHMAC bool

	// CORSAllowedOrigins accepts exact origins and "scheme://host:*" port wildcards.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// BootstrapAdmins are usernames granted the admin role when they register.
	BootstrapAdmins []string

	// JanitorInterval 0 disables the expired-session purge loop.
	JanitorInterval  time.Duration
	SessionRetention time.Duration

	ServiceName      string
	TraceSampleRatio float64
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BOOKSHELF_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BOOKSHELF_LOG_LEVEL", "info"),
		LogFormat: EnvString("BOOKSHELF_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BOOKSHELF_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BOOKSHELF_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BOOKSHELF_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BOOKSHELF_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("BOOKSHELF_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("BOOKSHELF_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BOOKSHELF_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BOOKSHELF_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BOOKSHELF_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BOOKSHELF_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("BOOKSHELF_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvList("BOOKSHELF_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("BOOKSHELF_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BOOKSHELF_CORS_MAX_AGE_SECONDS", 600),

		BootstrapAdmins: EnvList("BOOKSHELF_BOOTSTRAP_ADMINS"),

		JanitorInterval:  EnvDurationAllowZero("BOOKSHELF_SESSION_JANITOR_INTERVAL", time.Hour),
		SessionRetention: EnvDuration("BOOKSHELF_SESSION_RETENTION", 7*24*time.Hour),

		ServiceName:      EnvString("BOOKSHELF_SERVICE_NAME", "bookshelf"),
		TraceSampleRatio: EnvFloat("BOOKSHELF_TRACE_SAMPLE_RATIO", 0),
	}
}
