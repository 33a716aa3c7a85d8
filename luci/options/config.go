package options

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asnowfix/luci-config/internal/mymqtt"
	"github.com/go-logr/logr"
	"github.com/spf13/viper"
)

type MqttSettings struct {
	// Broker is the address of an external broker; empty runs the embedded one.
	Broker          string              `mapstructure:"broker"`
	Username        string              `mapstructure:"username"`
	Password        string              `mapstructure:"password"`
	DiscoveryPrefix string              `mapstructure:"discovery_prefix"`
	TopicPrefix     string              `mapstructure:"topic_prefix"`
	Embedded        mymqtt.BrokerConfig `mapstructure:"embedded"`
}

type Settings struct {
	DataDir      string           `mapstructure:"data_dir"`
	Workers      int              `mapstructure:"workers"`
	RateLimit    time.Duration    `mapstructure:"rate_limit"`
	SyncInterval time.Duration    `mapstructure:"sync_interval"`
	Mqtt         MqttSettings     `mapstructure:"mqtt"`
	Entries      []map[string]any `mapstructure:"entries"`
}

// DatabasePath is where config entries are stored.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, "luci.db")
}

var ViperConfig *viper.Viper

var Config Settings

func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "luci")
	}
	return "."
}

// LoadConfig reads luci.yaml from --config, the data dir or /etc/luci, then
// LUCI_* environment variables.
func LoadConfig(log logr.Logger, v *viper.Viper) (*Settings, error) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("workers", 1)
	v.SetDefault("rate_limit", "0s")
	v.SetDefault("sync_interval", SYNC_DEFAULT_INTERVAL.String())
	v.SetDefault("mqtt.embedded.mdns", true)

	v.SetEnvPrefix("LUCI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if Flags.ConfigFile != "" {
		v.SetConfigFile(Flags.ConfigFile)
	} else {
		v.SetConfigName("luci")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath("/etc/luci")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Error(err, "Error reading config file")
			return nil, err
		}
		log.V(1).Info("No config file, using defaults")
	} else {
		log.Info("Loaded config file", "file", v.ConfigFileUsed())
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	return &s, nil
}
