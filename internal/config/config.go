// Package config resolves runtime settings for the server and worker
// binaries. Precedence per setting: command-line flag, then MEDIAVAULT_*
// environment variable, then default. A .env file (or the file named by
// MEDIAVAULT_ENV_FILE) is loaded into the environment first when present.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "MEDIAVAULT_"

// RedisConfig carries the connection settings shared by the queue and cache.
type RedisConfig struct {
	Addr          string
	Addrs         []string
	Username      string
	Password      string
	QueueName     string
	MasterName    string
	PoolSize      int
	Timeout       time.Duration
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool
}

// Config is the full setting set; each binary reads the fields it needs.
type Config struct {
	Addr               string
	TLSCert            string
	TLSKey             string
	LogLevel           string
	LogFormat          string
	VideoDir           string
	StagingDir         string
	AuditDir           string
	TokenSecret        string
	RequireUploadToken bool
	TranscodeEnabled   bool
	PublicBaseURL      string
	DeeplinkScheme     string
	MediaTokenTTL      time.Duration
	CacheTTL           time.Duration
	Redis              RedisConfig
	FFmpegPath         string
	FFprobePath        string
	SubprocessTimeout  time.Duration
	DequeueWait        time.Duration
	SampleInterval     time.Duration
}

// Load parses flags and environment for the named binary.
func Load(name string, args []string) (Config, error) {
	loadEnvFile()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (json or text)")
	videoDir := fs.String("video-dir", "", "root directory for asset storage")
	stagingDir := fs.String("staging-dir", "", "directory holding completed uploads")
	auditDir := fs.String("audit-dir", "", "directory for audit log files")
	tokenSecret := fs.String("token-secret", "", "HMAC secret for media and upload tokens")
	requireUploadToken := fs.String("require-upload-token", "", "require a signed token to finalize uploads (true/false)")
	transcodeEnabled := fs.String("transcode-enabled", "", "enqueue transcode jobs after finalize (true/false)")
	publicBaseURL := fs.String("public-base-url", "", "externally reachable base URL for upload sessions")
	deeplinkScheme := fs.String("deeplink-scheme", "", "URL scheme for QR deeplinks")
	mediaTokenTTL := fs.Duration("media-token-ttl", 0, "default lifetime for signed media URLs")
	cacheTTL := fs.Duration("cache-ttl", 0, "TTL for cached metadata records")
	redisAddr := fs.String("redis-addr", "", "Redis address for the job queue and cache")
	redisAddrs := fs.String("redis-addrs", "", "comma separated Redis addresses")
	redisUsername := fs.String("redis-username", "", "Redis username")
	redisPassword := fs.String("redis-password", "", "Redis password")
	redisQueue := fs.String("redis-queue", "", "Redis list name for transcode jobs")
	redisMasterName := fs.String("redis-sentinel-master", "", "Redis sentinel master name")
	redisPoolSize := fs.Int("redis-pool-size", 0, "maximum Redis connections")
	redisTimeout := fs.Duration("redis-timeout", 0, "timeout for Redis operations")
	redisTLSCA := fs.String("redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := fs.String("redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := fs.String("redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := fs.String("redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := fs.String("redis-tls-skip-verify", "", "skip Redis TLS verification (true/false)")
	ffmpegPath := fs.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := fs.String("ffprobe", "", "path to the ffprobe binary")
	subprocessTimeout := fs.Duration("subprocess-timeout", 0, "bound on a single probe or encode invocation")
	dequeueWait := fs.Duration("dequeue-wait", 0, "blocking wait per queue poll")
	sampleInterval := fs.Duration("sample-interval", 0, "interval between queue depth samples")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:           firstNonEmpty(*addr, env("ADDR"), ":8080"),
		TLSCert:        firstNonEmpty(*tlsCert, env("TLS_CERT")),
		TLSKey:         firstNonEmpty(*tlsKey, env("TLS_KEY")),
		LogLevel:       firstNonEmpty(*logLevel, env("LOG_LEVEL"), "info"),
		LogFormat:      firstNonEmpty(*logFormat, env("LOG_FORMAT")),
		VideoDir:       firstNonEmpty(*videoDir, env("VIDEO_DIR"), "./data/videos"),
		StagingDir:     firstNonEmpty(*stagingDir, env("STAGING_DIR"), "./data/staging"),
		AuditDir:       firstNonEmpty(*auditDir, env("AUDIT_DIR"), "./data/audit"),
		TokenSecret:    firstNonEmpty(*tokenSecret, env("TOKEN_SECRET")),
		PublicBaseURL:  firstNonEmpty(*publicBaseURL, env("PUBLIC_BASE_URL")),
		DeeplinkScheme: firstNonEmpty(*deeplinkScheme, env("DEEPLINK_SCHEME"), "mediavault"),
		FFmpegPath:     firstNonEmpty(*ffmpegPath, env("FFMPEG"), "ffmpeg"),
		FFprobePath:    firstNonEmpty(*ffprobePath, env("FFPROBE"), "ffprobe"),
		Redis: RedisConfig{
			Addr:          firstNonEmpty(*redisAddr, env("REDIS_ADDR"), "127.0.0.1:6379"),
			Addrs:         splitAndTrim(firstNonEmpty(*redisAddrs, env("REDIS_ADDRS"))),
			Username:      firstNonEmpty(*redisUsername, env("REDIS_USERNAME")),
			Password:      firstNonEmpty(*redisPassword, env("REDIS_PASSWORD")),
			QueueName:     firstNonEmpty(*redisQueue, env("REDIS_QUEUE")),
			MasterName:    firstNonEmpty(*redisMasterName, env("REDIS_SENTINEL_MASTER")),
			TLSCA:         firstNonEmpty(*redisTLSCA, env("REDIS_TLS_CA")),
			TLSCert:       firstNonEmpty(*redisTLSCert, env("REDIS_TLS_CERT")),
			TLSKey:        firstNonEmpty(*redisTLSKey, env("REDIS_TLS_KEY")),
			TLSServerName: firstNonEmpty(*redisTLSServerName, env("REDIS_TLS_SERVER_NAME")),
		},
	}

	var err error
	cfg.RequireUploadToken, err = boolSetting(*requireUploadToken, "REQUIRE_UPLOAD_TOKEN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscodeEnabled, err = boolSetting(*transcodeEnabled, "TRANSCODE_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	cfg.Redis.TLSSkipVerify, err = boolSetting(*redisTLSSkipVerify, "REDIS_TLS_SKIP_VERIFY", false)
	if err != nil {
		return Config{}, err
	}

	cfg.MediaTokenTTL, err = durationSetting(*mediaTokenTTL, "MEDIA_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL, err = durationSetting(*cacheTTL, "CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg.Redis.Timeout, err = durationSetting(*redisTimeout, "REDIS_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.SubprocessTimeout, err = durationSetting(*subprocessTimeout, "SUBPROCESS_TIMEOUT", 2*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.DequeueWait, err = durationSetting(*dequeueWait, "DEQUEUE_WAIT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleInterval, err = durationSetting(*sampleInterval, "SAMPLE_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg.Redis.PoolSize = *redisPoolSize
	if cfg.Redis.PoolSize == 0 {
		if raw := env("REDIS_POOL_SIZE"); raw != "" {
			size, err := strconv.Atoi(raw)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %sREDIS_POOL_SIZE: %w", envPrefix, err)
			}
			cfg.Redis.PoolSize = size
		}
	}

	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("token secret is required (-token-secret or %sTOKEN_SECRET)", envPrefix)
	}
	return cfg, nil
}

func loadEnvFile() {
	path := strings.TrimSpace(os.Getenv(envPrefix + "ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Existing environment variables win over the file.
	_ = godotenv.Load(path)
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func boolSetting(flagValue, envName string, fallback bool) (bool, error) {
	raw := firstNonEmpty(flagValue, env(envName))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q for %s%s", raw, envPrefix, envName)
	}
	return parsed, nil
}

func durationSetting(flagValue time.Duration, envName string, fallback time.Duration) (time.Duration, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	raw := env(envName)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q for %s%s", raw, envPrefix, envName)
	}
	return parsed, nil
}
