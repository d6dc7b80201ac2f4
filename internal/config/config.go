// Package config resolves agentchat configuration from defaults, the
// config file, .env, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Keys understood by the configuration layer.
const (
	KeyBackendURL     = "backend_url"
	KeyRequestTimeout = "request_timeout"
	KeyLogLevel       = "log_level"
	KeyLogFile        = "log_file"
	KeyDataDir        = "data_dir"
	KeySettingsPath   = "settings_path"
	KeyListenAddr     = "listen_addr"
	KeyDBPath         = "db_path"
	KeyUseRealAgent   = "use_real_agent"
	KeyTSAgentPath    = "ts_agent_path"
	KeyAgentTimeout   = "agent_timeout"
)

// Config holds all application configuration.
type Config struct {
	BackendURL     string
	RequestTimeout time.Duration
	LogLevel       string
	LogFile        string
	DataDir        string
	SettingsPath   string

	// Local backend (agentchat serve).
	ListenAddr   string
	DBPath       string
	UseRealAgent bool
	TSAgentPath  string
	AgentTimeout time.Duration
}

// New returns a viper instance carrying defaults and environment bindings.
// Values from a .env file in the working directory are exported first;
// variables already set in the environment win over the file.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault(KeyBackendURL, "http://localhost:8001/api")
	v.SetDefault(KeyRequestTimeout, 60*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeySettingsPath, "")
	v.SetDefault(KeyListenAddr, ":8001")
	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyUseRealAgent, false)
	v.SetDefault(KeyTSAgentPath, "../ts-ai-agent")
	v.SetDefault(KeyAgentTimeout, 30*time.Second)

	v.SetEnvPrefix("AGENTCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// The agent backend has always been configured with these unprefixed names.
	_ = v.BindEnv(KeyUseRealAgent, "AGENTCHAT_USE_REAL_AGENT", "USE_REAL_AGENT")
	_ = v.BindEnv(KeyTSAgentPath, "AGENTCHAT_TS_AGENT_PATH", "TS_AGENT_PATH")
	return v
}

// Load reads the config file into v and decodes the result. An explicit
// configFile must exist; otherwise agentchat.yaml is looked up in the
// working directory and the data directory and may be absent.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agentchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString(KeyDataDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Decode(v)
}

// Decode builds a Config from the values currently visible to v.
func Decode(v *viper.Viper) (Config, error) {
	cfg := Config{
		BackendURL:     strings.TrimSpace(v.GetString(KeyBackendURL)),
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFile:        v.GetString(KeyLogFile),
		DataDir:        v.GetString(KeyDataDir),
		SettingsPath:   v.GetString(KeySettingsPath),
		ListenAddr:     v.GetString(KeyListenAddr),
		DBPath:         v.GetString(KeyDBPath),
		UseRealAgent:   v.GetBool(KeyUseRealAgent),
		TSAgentPath:    v.GetString(KeyTSAgentPath),
		AgentTimeout:   v.GetDuration(KeyAgentTimeout),
	}

	if cfg.BackendURL == "" {
		return cfg, errors.New("backend_url must not be empty")
	}
	if cfg.RequestTimeout < 0 {
		return cfg, fmt.Errorf("request_timeout must not be negative, got %s", cfg.RequestTimeout)
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.DataDir, "settings.yaml")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "agentchat.duckdb")
	}
	return cfg, nil
}

// TUILogFile returns where the interactive UI writes logs so they do not
// corrupt the terminal.
func (c Config) TUILogFile() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "agentchat.log")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentchat"
	}
	return filepath.Join(home, ".agentchat")
}
