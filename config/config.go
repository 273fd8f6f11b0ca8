package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileName is the optional per-project config file read from the
// working directory. Flags and environment variables override it.
const FileName = "infinite-fuzz.yaml"

const (
	DefaultRestartDelay = 1 * time.Second
	DefaultGracePeriod  = 1 * time.Second
	DefaultReapDelay    = 1 * time.Second

	// DefaultGoExperiment is exported to the fuzz command's environment
	// only when the caller has not set GOEXPERIMENT themselves.
	DefaultGoExperiment = "loopvar"
)

type AppConfig struct {
	TargetsCSV   string   // raw value of -t/--targets, empty means discover
	FileTargets  []string // targets listed in infinite-fuzz.yaml
	TestDir      string
	LogLevel     string
	RestartDelay time.Duration
	GracePeriod  time.Duration
	ReapDelay    time.Duration
	GoExperiment string
	ServiceName  string
	SessionID    string
}

type fileConfig struct {
	Targets      []string `yaml:"targets"`
	Dir          string   `yaml:"dir"`
	LogLevel     string   `yaml:"log_level"`
	RestartDelay string   `yaml:"restart_delay"`
	GracePeriod  string   `yaml:"grace_period"`
	GoExperiment string   `yaml:"goexperiment"`
}

func LoadConfig(targetsCSV string) *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	file := loadFileConfig(logger, ".")

	config := &AppConfig{
		TargetsCSV:   targetsCSV,
		FileTargets:  file.Targets,
		TestDir:      firstNonEmpty(os.Getenv("FUZZ_DIR"), file.Dir, "."),
		LogLevel:     firstNonEmpty(os.Getenv("LOG_LEVEL"), file.LogLevel),
		RestartDelay: parseDuration(firstNonEmpty(os.Getenv("FUZZ_RESTART_DELAY"), file.RestartDelay), DefaultRestartDelay),
		GracePeriod:  parseDuration(firstNonEmpty(os.Getenv("FUZZ_GRACE_PERIOD"), file.GracePeriod), DefaultGracePeriod),
		ReapDelay:    parseDuration(os.Getenv("FUZZ_REAP_DELAY"), DefaultReapDelay),
		GoExperiment: firstNonEmpty(os.Getenv("FUZZ_GOEXPERIMENT"), file.GoExperiment, DefaultGoExperiment),
		ServiceName:  os.Getenv("SERVICE_NAME"),
		SessionID:    uuid.NewString(),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "infinitefuzz" // Default service name
	}

	return config
}

func loadFileConfig(logger *zap.Logger, dir string) fileConfig {
	var file fileConfig
	content, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return file // file is optional
	}
	if err := yaml.Unmarshal(content, &file); err != nil {
		logger.Warn("Failed to parse config file", zap.String("file", FileName), zap.Error(err))
		return fileConfig{}
	}
	return file
}

func firstNonEmpty(vals ...string) string {
	for _, val := range vals {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
