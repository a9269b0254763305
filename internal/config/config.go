package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"GO_ENV"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	// Database: "postgres" in production, "sqlite" for local runs
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	// Redis
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Realtime
	PresenceBackend    string `mapstructure:"PRESENCE_BACKEND"`     // memory | redis
	SocketRedisAdapter bool   `mapstructure:"SOCKET_REDIS_ADAPTER"` // share socket.io rooms across instances

	// Attachments
	StorageBackend string `mapstructure:"STORAGE_BACKEND"` // local | s3
	UploadDir      string `mapstructure:"UPLOAD_DIR"`
	MaxUploadBytes int64  `mapstructure:"MAX_UPLOAD_BYTES"`

	// R2 / S3
	R2AccountID       string `mapstructure:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `mapstructure:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `mapstructure:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `mapstructure:"R2_BUCKET_NAME"`
	R2Endpoint        string `mapstructure:"R2_ENDPOINT"` // overrides the account endpoint (minio, localstack)
}

var AppConfig *Config

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("GO_ENV", "development")
	viper.SetDefault("DATABASE_DRIVER", "postgres")
	viper.SetDefault("PRESENCE_BACKEND", "memory")
	viper.SetDefault("SOCKET_REDIS_ADAPTER", false)
	viper.SetDefault("STORAGE_BACKEND", "local")
	viper.SetDefault("UPLOAD_DIR", "uploads/chat")
	viper.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	viper.SetDefault("FRONTEND_URL", "http://localhost:5173")
}

func LoadConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	// AutomaticEnv only resolves keys viper already knows about; bind the rest explicitly
	for _, key := range []string{
		"JWT_SECRET", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_ENDPOINT",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}
