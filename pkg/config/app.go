package config

import "time"

// Config holds runtime configuration for the pulseboard service.
type Config struct {
	Environment string
	Addr        string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string

	AzureOrgURL  string
	AzureProject string
	AzureTeam    string
	AzurePAT     string

	WebhookSecret string
	AdminToken    string

	UpstreamTimeout    time.Duration
	UpstreamRatePerSec float64
	UpstreamRateBurst  int

	WorkItemsTTL  time.Duration
	IterationsTTL time.Duration
	AreasTTL      time.Duration
	TeamsTTL      time.Duration

	CacheFailOpen     bool
	RateLimitFailOpen bool

	DedupTTL       time.Duration
	StatsRetention time.Duration

	VelocitySprints int
	SSEHeartbeat    time.Duration
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("API_ADDR", ":8080"),
		LogLevel:    GetString("LOG_LEVEL", "info"),

		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		DatabaseURL: GetString("DATABASE_URL", ""),

		AzureOrgURL:  GetString("AZURE_DEVOPS_ORG_URL", ""),
		AzureProject: GetString("AZURE_DEVOPS_PROJECT", ""),
		AzureTeam:    GetString("AZURE_DEVOPS_TEAM", ""),
		AzurePAT:     GetString("AZURE_DEVOPS_PAT", ""),

		WebhookSecret: GetString("WEBHOOK_SECRET", ""),
		AdminToken:    GetString("ADMIN_TOKEN", ""),

		UpstreamTimeout:    GetSeconds("UPSTREAM_TIMEOUT_SECONDS", 30),
		UpstreamRatePerSec: GetFloat("UPSTREAM_RATE_PER_SECOND", 50),
		UpstreamRateBurst:  GetInt("UPSTREAM_RATE_BURST", 10),

		WorkItemsTTL:  GetSeconds("CACHE_WORKITEMS_TTL_SECONDS", 300),
		IterationsTTL: GetSeconds("CACHE_ITERATIONS_TTL_SECONDS", 3600),
		AreasTTL:      GetSeconds("CACHE_AREAS_TTL_SECONDS", 3600),
		TeamsTTL:      GetSeconds("CACHE_TEAMS_TTL_SECONDS", 1800),

		CacheFailOpen:     GetBool("CACHE_FAIL_OPEN", true),
		RateLimitFailOpen: GetBool("RATE_LIMIT_FAIL_OPEN", true),

		DedupTTL:       GetSeconds("DEDUP_TTL_SECONDS", 600),
		StatsRetention: time.Duration(GetInt("STATS_RETENTION_HOURS", 168)) * time.Hour,

		VelocitySprints: GetInt("VELOCITY_SPRINT_COUNT", 6),
		SSEHeartbeat:    GetSeconds("SSE_HEARTBEAT_SECONDS", 25),
	}
}
