package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".storyguild/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"storyguild/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type SchedulerEnv struct {
	PoolSize        int           `envconfig:"POOL_SIZE" default:"4"`
	WatchdogTimeout time.Duration `envconfig:"WATCHDOG_TIMEOUT" default:"10m"`
	MaxRespawns     int           `envconfig:"MAX_RESPAWNS" default:"3"`
	PoolConfigPath  string        `envconfig:"POOL_CONFIG_PATH"`
	SharedExecutor  bool          `envconfig:"SHARED_EXECUTOR" default:"true"`
	ArtifactPrefix  string        `envconfig:"ARTIFACT_PREFIX" default:"artifacts"`
}

type GenerationEnv struct {
	Backend      string        `envconfig:"GENERATION_BACKEND" default:"echo"`
	GeminiAPIKey string        `envconfig:"GEMINI_API_KEY"`
	TextModel    string        `envconfig:"TEXT_MODEL"`
	ImageModel   string        `envconfig:"IMAGE_MODEL"`
	EchoDelay    time.Duration `envconfig:"ECHO_DELAY" default:"500ms"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	SchedulerEnv
	GenerationEnv
	VAPIDEnv
}

const namespace = "STORYGUILD"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
