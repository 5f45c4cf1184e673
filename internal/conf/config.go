// Package conf loads and validates FoodNet settings using viper.
package conf

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// FOODNET_SERVER_PORT=6000.
const EnvPrefix = "FOODNET"

// MainSettings contains general application settings
type MainSettings struct {
	Name  string `mapstructure:"name" yaml:"name"`   // instance name used in logs and MQTT client ids
	Debug bool   `mapstructure:"debug" yaml:"debug"` // enables debug logging for all modules
}

// RateLimitSettings limits new units of work per origin address
type RateLimitSettings struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	PerSecond float64 `mapstructure:"persecond" yaml:"persecond"` // sustained requests per second per origin
	Burst     int     `mapstructure:"burst" yaml:"burst"`         // burst size per origin
}

// ServerSettings configures the datagram ingestion server
type ServerSettings struct {
	Address          string            `mapstructure:"address" yaml:"address"`
	Port             int               `mapstructure:"port" yaml:"port"`
	MaxDatagram      int               `mapstructure:"maxdatagram" yaml:"maxdatagram"`           // receive buffer size
	ChunkSize        int               `mapstructure:"chunksize" yaml:"chunksize"`               // outbound chunk size used by clients
	TransferTimeout  time.Duration     `mapstructure:"transfertimeout" yaml:"transfertimeout"`   // idle time before a pending transfer is dropped
	MaxTransferBytes int               `mapstructure:"maxtransferbytes" yaml:"maxtransferbytes"` // upper bound for a reassembled image
	Workers          int               `mapstructure:"workers" yaml:"workers"`
	QueueSize        int               `mapstructure:"queuesize" yaml:"queuesize"`
	RequestTimeout   time.Duration     `mapstructure:"requesttimeout" yaml:"requesttimeout"` // deadline for one image or correction
	RateLimit        RateLimitSettings `mapstructure:"ratelimit" yaml:"ratelimit"`
}

// ListenAddr returns host:port for the UDP listener.
func (s *ServerSettings) ListenAddr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// ModelSettings configures the inference engine
type ModelSettings struct {
	Path       string  `mapstructure:"path" yaml:"path"`           // TFLite model file
	LabelPath  string  `mapstructure:"labelpath" yaml:"labelpath"` // labels file, empty uses the category registry
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold"`
	InputSize  int     `mapstructure:"inputsize" yaml:"inputsize"`
	Threads    int     `mapstructure:"threads" yaml:"threads"` // 0 selects automatically
	UseXNNPACK bool    `mapstructure:"usexnnpack" yaml:"usexnnpack"`
}

// SQLiteSettings configures the SQLite backend
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings configures the MySQL backend
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// DSN returns the go-sql-driver DSN for these settings. Credentials are
// escaped by mysql.Config.
func (m *MySQLSettings) DSN() string {
	cfg := mysql.Config{
		User:   m.Username,
		Passwd: m.Password,
		Net:    "tcp",
		Addr:   net.JoinHostPort(m.Host, strconv.Itoa(m.Port)),
		DBName: m.Database,
		Params: map[string]string{
			"charset":   "utf8mb4",
			"parseTime": "True",
			"loc":       "Local",
		},
	}
	return cfg.FormatDSN()
}

// StorageSettings configures the record store and image storage
type StorageSettings struct {
	Type      string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite    SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL     MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
	ImageDir  string         `mapstructure:"imagedir" yaml:"imagedir"`   // where received images are written
	SlowQuery time.Duration  `mapstructure:"slowquery" yaml:"slowquery"` // 0 disables slow query warnings
}

// RetrainSettings configures the retraining trigger
type RetrainSettings struct {
	Enabled   bool           `mapstructure:"enabled" yaml:"enabled"`
	Command   []string       `mapstructure:"command" yaml:"command"` // argv of the training procedure
	WorkDir   string         `mapstructure:"workdir" yaml:"workdir"`
	Timeout   time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	CSVPath   string         `mapstructure:"csvpath" yaml:"csvpath"` // dataset exported before each run, empty skips export
	QueueSize int            `mapstructure:"queuesize" yaml:"queuesize"`
	History   int            `mapstructure:"history" yaml:"history"` // finished jobs kept for inspection
	Notify    NotifySettings `mapstructure:"notify" yaml:"notify"`
}

// NotifySettings configures push notifications about finished retrain jobs
type NotifySettings struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	URLs         []string      `mapstructure:"urls" yaml:"urls"` // shoutrrr service URLs
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OnlyFailures bool          `mapstructure:"onlyfailures" yaml:"onlyfailures"`
}

// BridgeTopics names the MQTT topics used by the relay
type BridgeTopics struct {
	Images          string `mapstructure:"images" yaml:"images"`
	ConfirmedLabels string `mapstructure:"confirmedlabels" yaml:"confirmedlabels"`
	Predictions     string `mapstructure:"predictions" yaml:"predictions"`
}

// BridgeSettings configures the MQTT relay
type BridgeSettings struct {
	Broker   string        `mapstructure:"broker" yaml:"broker"`
	ClientID string        `mapstructure:"clientid" yaml:"clientid"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	QoS      int           `mapstructure:"qos" yaml:"qos"`
	Target   string        `mapstructure:"target" yaml:"target"`   // UDP address of the ingestion server
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"` // UDP reply timeout
	Topics   BridgeTopics  `mapstructure:"topics" yaml:"topics"`
}

// WebServerSettings configures the HTTP admin endpoint
type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Settings is the root configuration
type Settings struct {
	Main      MainSettings         `mapstructure:"main" yaml:"main"`
	Server    ServerSettings       `mapstructure:"server" yaml:"server"`
	Model     ModelSettings        `mapstructure:"model" yaml:"model"`
	Storage   StorageSettings      `mapstructure:"storage" yaml:"storage"`
	Retrain   RetrainSettings      `mapstructure:"retrain" yaml:"retrain"`
	Bridge    BridgeSettings       `mapstructure:"bridge" yaml:"bridge"`
	WebServer WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ConfigFile is the file settings were read from, empty when only
	// defaults and environment were used.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configFile, or from the default search
// paths when configFile is empty, applies environment overrides and any
// flags bound in flags, validates the result and stores it as the current
// settings. A missing config in the search paths is not an error; defaults
// are used.
func Load(configFile string, flags *pflag.FlagSet) (*Settings, error) {
	v, err := newViper(configFile, flags)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if settings.Main.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

func newViper(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(fmt.Errorf("error reading config file %s: %w", configFile, err)).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range DefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	return v, nil
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"debug":     "main.debug",
	"address":   "server.address",
	"port":      "server.port",
	"workers":   "server.workers",
	"model":     "model.path",
	"labels":    "model.labelpath",
	"threshold": "model.threshold",
	"db":        "storage.sqlite.path",
	"imagedir":  "storage.imagedir",
	"retrain":   "retrain.enabled",
	"broker":    "bridge.broker",
	"target":    "bridge.target",
	"http":      "webserver.enabled",
	"listen":    "webserver.listen",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

// DefaultConfigPaths returns the directories searched for config.yaml, in
// priority order.
func DefaultConfigPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "foodnet"))
	}

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/foodnet")
	}

	return paths
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// WriteDefaultConfig writes a config file populated with every default to
// path. It refuses to overwrite an existing file unless force is set.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("config file %s already exists", path).
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	v := viper.New()
	setDefaultConfig(v)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("error encoding default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("error creating directories for config file: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.New(fmt.Errorf("error writing default config file: %w", err)).
			Category(errors.CategoryFileIO).
			Build()
	}

	return nil
}

// RedactedYAML renders settings as YAML with secrets masked.
func (s *Settings) RedactedYAML() ([]byte, error) {
	c := *s
	if c.Storage.MySQL.Password != "" {
		c.Storage.MySQL.Password = redacted
	}
	if c.Bridge.Password != "" {
		c.Bridge.Password = redacted
	}

	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings: %w", err)
	}
	return data, nil
}

const redacted = "********"
