package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Bluetooth  BluetoothConfig  `mapstructure:"bluetooth"`
	Controller ControllerConfig `mapstructure:"controller"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ListenAddresses []string `mapstructure:"listen_addresses"`
}

type BluetoothConfig struct {
	// Adapter is an adapter hint: an object path (/org/bluez/hci0), an
	// adapter id (hci0) or a MAC address. Empty selects the first adapter.
	Adapter          string `mapstructure:"adapter"`
	ReconnectAddress string `mapstructure:"reconnect_address"`
	SpoofAddress     string `mapstructure:"spoof_address"`
	ServicePath      string `mapstructure:"service_path"`
	OverrideDir      string `mapstructure:"override_dir"`
}

type ControllerConfig struct {
	Alias       string `mapstructure:"alias"`
	DeviceClass string `mapstructure:"device_class"`
}

type SessionConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	LoopPause    time.Duration `mapstructure:"loop_pause"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Load environment file if specified
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// Try to load .env from current directory if it exists
		if _, err := os.Stat(".env"); err == nil {
			loadEnvFile(".env")
		}
	}

	// Set defaults
	setDefaults(v)

	// Read from config file
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".procon_server"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables
	v.SetEnvPrefix("PROCON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind command line flags
	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set default storage path if not provided
	if cfg.Storage.Path == "" {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		cfg.Storage.Path = filepath.Join(pwd, ".procon_server")
	}

	// Validate config
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5680)
	v.SetDefault("bluetooth.adapter", "")
	v.SetDefault("bluetooth.service_path", "/lib/systemd/system/bluetooth.service")
	v.SetDefault("bluetooth.override_dir", "/run/systemd/system/bluetooth.service.d")
	v.SetDefault("controller.alias", "Pro Controller")
	v.SetDefault("controller.device_class", "0x002508")
	v.SetDefault("session.tick_interval", time.Millisecond)
	v.SetDefault("session.loop_pause", 5*time.Second)
	v.SetDefault("session.poll_interval", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"port":              "server.port",
		"listen":            "server.listen_addresses",
		"adapter":           "bluetooth.adapter",
		"reconnect-address": "bluetooth.reconnect_address",
		"spoof-address":     "bluetooth.spoof_address",
		"controller-alias":  "controller.alias",
		"device-class":      "controller.device_class",
		"storage-path":      "storage.path",
		"tick-interval":     "session.tick_interval",
		"loop-pause":        "session.loop_pause",
		"log-level":         "log.level",
		"log-format":        "log.format",
	}

	for flag, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.Bluetooth.ReconnectAddress != "" {
		if _, err := net.ParseMAC(cfg.Bluetooth.ReconnectAddress); err != nil {
			return fmt.Errorf("invalid reconnect address %q: %w", cfg.Bluetooth.ReconnectAddress, err)
		}
	}

	if cfg.Bluetooth.SpoofAddress != "" {
		if _, err := net.ParseMAC(cfg.Bluetooth.SpoofAddress); err != nil {
			return fmt.Errorf("invalid spoof address %q: %w", cfg.Bluetooth.SpoofAddress, err)
		}
	}

	if err := validateDeviceClass(cfg.Controller.DeviceClass); err != nil {
		return err
	}

	if cfg.Session.TickInterval <= 0 {
		return fmt.Errorf("invalid tick interval: %s", cfg.Session.TickInterval)
	}

	if cfg.Session.LoopPause < 0 {
		return fmt.Errorf("invalid loop pause: %s", cfg.Session.LoopPause)
	}

	return nil
}

func validateDeviceClass(class string) error {
	s := strings.TrimPrefix(strings.ToLower(class), "0x")
	if _, err := strconv.ParseUint(s, 16, 24); err != nil {
		return fmt.Errorf("invalid device class %q: %w", class, err)
	}
	return nil
}
