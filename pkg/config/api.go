package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment    string        `yaml:"environment"`
	Addr           string        `yaml:"addr"`
	LogLevel       string        `yaml:"logLevel"`
	DatabaseURL    string        `yaml:"databaseURL"`
	StoreDriver    string        `yaml:"storeDriver"`
	MigrationsDir  string        `yaml:"migrationsDir"`
	JWTSecret      string        `yaml:"jwtSecret"`
	AccessTokenTTL time.Duration `yaml:"accessTokenTTL"`
	CORSOrigin     string        `yaml:"corsOrigin"`

	ArtifactBackend string `yaml:"artifactBackend"`
	UploadDir       string `yaml:"uploadDir"`
	MaxUploadMB     int    `yaml:"maxUploadMB"`
	MinioEndpoint   string `yaml:"minioEndpoint"`
	MinioAccessKey  string `yaml:"minioAccessKey"`
	MinioSecretKey  string `yaml:"minioSecretKey"`
	MinioBucket     string `yaml:"minioBucket"`
	MinioUseSSL     bool   `yaml:"minioUseSSL"`

	DeploySimulation time.Duration `yaml:"deploySimulation"`
	DeployStuckAfter time.Duration `yaml:"deployStuckAfter"`
	WatchdogInterval time.Duration `yaml:"watchdogInterval"`

	WSSendBuffer        int    `yaml:"wsSendBuffer"`
	WSMessagesPerSecond int    `yaml:"wsMessagesPerSecond"`
	NotifyQueueSize     int    `yaml:"notifyQueueSize"`
	RateLimitRedisAddr  string `yaml:"rateLimitRedisAddr"`
	RateLimitRedisPass  string `yaml:"rateLimitRedisPassword"`
	RateLimitRedisDB    int    `yaml:"rateLimitRedisDB"`

	OTELExporter string `yaml:"otelExporter"`
	OTELEndpoint string `yaml:"otelEndpoint"`
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":3001"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://replicas:replicas@db:5432/replicas?sslmode=disable"),
		StoreDriver:         GetString("STORE_DRIVER", "postgres"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 24*60)) * time.Minute,
		CORSOrigin:          GetString("CORS_ORIGIN", "http://localhost:5173"),
		ArtifactBackend:     GetString("ARTIFACT_BACKEND", "disk"),
		UploadDir:           GetString("UPLOAD_DIR", "uploads/war-files"),
		MaxUploadMB:         GetInt("MAX_UPLOAD_MB", 100),
		MinioEndpoint:       GetString("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey:      GetString("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      GetString("MINIO_SECRET_KEY", ""),
		MinioBucket:         GetString("MINIO_BUCKET", "war-files"),
		MinioUseSSL:         GetBool("MINIO_USE_SSL", false),
		DeploySimulation:    GetSeconds("DEPLOY_SIMULATION_SECONDS", 10),
		DeployStuckAfter:    time.Duration(GetInt("DEPLOY_STUCK_AFTER_MINUTES", 30)) * time.Minute,
		WatchdogInterval:    GetSeconds("WATCHDOG_INTERVAL_SECONDS", 60),
		WSSendBuffer:        GetInt("WS_SEND_BUFFER", 32),
		WSMessagesPerSecond: GetInt("WS_MESSAGES_PER_SECOND", 5),
		NotifyQueueSize:     GetInt("NOTIFY_QUEUE_SIZE", 256),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		OTELExporter:        GetString("OTEL_EXPORTER", "none"),
		OTELEndpoint:        GetString("OTEL_ENDPOINT", ""),
	}
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c APIConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
