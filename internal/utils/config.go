package utils

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/debloat-agent/pkg/file"
	"github.com/pkg/errors"
)

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // trace, debug, info, warn, error
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`

	Bridge struct {
		ADBPath        string        `yaml:"adb_path"`        // Explicit adb binary, skips discovery when set
		CommandTimeout time.Duration `yaml:"command_timeout"` // Timeout for one-shot commands
		StreamTimeout  time.Duration `yaml:"stream_timeout"`  // Timeout for streamed commands
	} `yaml:"bridge"`

	Cache struct {
		DeviceTTL  time.Duration `yaml:"device_ttl"`  // Lifetime of the device list
		PackageTTL time.Duration `yaml:"package_ttl"` // Lifetime of a package listing
	} `yaml:"cache"`

	Stream struct {
		ChunkSize int `yaml:"chunk_size"` // Packages per package_chunk event
		Workers   int `yaml:"workers"`    // Concurrent listings
	} `yaml:"stream"`

	Health struct {
		Monitor  bool          `yaml:"monitor"`  // Start polling at startup
		Interval time.Duration `yaml:"interval"` // Polling interval, at least 1s
		TTL      struct {
			Storage   time.Duration `yaml:"storage"`
			Memory    time.Duration `yaml:"memory"`
			CPU       time.Duration `yaml:"cpu"`
			Services  time.Duration `yaml:"services"`
			AppCounts time.Duration `yaml:"app_counts"`
			Thermal   time.Duration `yaml:"thermal"`
			Battery   time.Duration `yaml:"battery"`
		} `yaml:"ttl"`
	} `yaml:"health"`

	Backup struct {
		Dir string `yaml:"dir"` // Backup directory, defaults to ~/Documents/AndroidDebloater/backups
		S3  struct {
			Enabled   bool   `yaml:"enabled"`    // Upload backups to object storage
			Endpoint  string `yaml:"endpoint"`   // host:port of the S3-compatible endpoint
			AccessKey string `yaml:"access_key"` // Access key ID
			SecretKey string `yaml:"secret_key"` // Secret access key
			UseSSL    bool   `yaml:"use_ssl"`    // Use HTTPS
			Bucket    string `yaml:"bucket"`     // Bucket, created when missing
			Prefix    string `yaml:"prefix"`     // Object name prefix
		} `yaml:"s3"`
	} `yaml:"backup"`

	History struct {
		Enabled bool   `yaml:"enabled"` // Record uninstall, reinstall and restore actions
		Path    string `yaml:"path"`    // SQLite database file
	} `yaml:"history"`

	State struct {
		OperationsFile string `yaml:"operations_file"` // Journal of in-flight restores
	} `yaml:"state"`

	API struct {
		Enabled   bool    `yaml:"enabled"`    // Serve the HTTP API
		Listen    string  `yaml:"listen"`     // Listen address
		RateLimit float64 `yaml:"rate_limit"` // Requests per second per client
		Burst     int     `yaml:"burst"`      // Burst per client
	} `yaml:"api"`

	MQTT struct {
		Enabled       bool          `yaml:"enabled"`        // Connect to a broker
		Broker        string        `yaml:"broker"`         // MQTT broker address
		ClientID      string        `yaml:"client_id"`      // MQTT client ID, defaults to the agent id
		Username      string        `yaml:"username"`       // Broker username
		Password      string        `yaml:"password"`       // Broker password
		CACertificate string        `yaml:"ca_certificate"` // Path to the CA certificate
		SkipVerify    bool          `yaml:"skip_verify"`    // Skip broker certificate verification
		ConnectWait   time.Duration `yaml:"connect_wait"`   // Time to wait for the connection
		TopicPrefix   string        `yaml:"topic_prefix"`   // Prefix of every agent topic
		QOS           int           `yaml:"qos"`            // QoS for published messages
		Events        bool          `yaml:"events"`         // Publish device events

		Heartbeat struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable heartbeat service
			Interval time.Duration `yaml:"interval"` // Interval between heartbeats
		} `yaml:"heartbeat"`

		Command struct {
			Enabled          bool   `yaml:"enabled"`            // Enable/disable command service
			MaxExecutionTime int    `yaml:"max_execution_time"` // Maximum execution time for commands (in seconds)
			SigningKeyFile   string `yaml:"signing_key_file"`   // HMAC key; when set, commands must be signed
		} `yaml:"command"`
	} `yaml:"mqtt"`

	Identity struct {
		AgentFile string `yaml:"agent_file"` // Path to the agent identity file
	} `yaml:"identity"`
}

// Environment variables that override the configuration file.
const (
	EnvADBPath      = "DEBLOAT_ADB_PATH"
	EnvLogLevel     = "DEBLOAT_LOG_LEVEL"
	EnvLogFormat    = "DEBLOAT_LOG_FORMAT"
	EnvAPIListen    = "DEBLOAT_API_LISTEN"
	EnvBackupDir    = "DEBLOAT_BACKUP_DIR"
	EnvHistoryPath  = "DEBLOAT_HISTORY_PATH"
	EnvMQTTBroker   = "DEBLOAT_MQTT_BROKER"
	EnvMQTTUsername = "DEBLOAT_MQTT_USERNAME"
	EnvMQTTPassword = "DEBLOAT_MQTT_PASSWORD"
	EnvS3Endpoint   = "DEBLOAT_S3_ENDPOINT"
	EnvS3AccessKey  = "DEBLOAT_S3_ACCESS_KEY"
	EnvS3SecretKey  = "DEBLOAT_S3_SECRET_KEY"
	EnvS3Bucket     = "DEBLOAT_S3_BUCKET"
	EnvHealthMon    = "DEBLOAT_HEALTH_MONITOR"
)

// LoadConfig loads the YAML configuration from the specified file, applies
// environment overrides and fills defaults. An empty filename yields the
// defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if filename != "" {
		if err := fileClient.ReadYamlFile(filename, &config); err != nil {
			return nil, errors.Wrapf(err, "failed to load config %s", filename)
		}
	}

	config.ApplyEnv(os.LookupEnv)
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvADBPath, &c.Bridge.ADBPath)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvAPIListen, &c.API.Listen)
	str(EnvBackupDir, &c.Backup.Dir)
	str(EnvHistoryPath, &c.History.Path)
	str(EnvMQTTBroker, &c.MQTT.Broker)
	str(EnvMQTTUsername, &c.MQTT.Username)
	str(EnvMQTTPassword, &c.MQTT.Password)
	str(EnvS3Endpoint, &c.Backup.S3.Endpoint)
	str(EnvS3AccessKey, &c.Backup.S3.AccessKey)
	str(EnvS3SecretKey, &c.Backup.S3.SecretKey)
	str(EnvS3Bucket, &c.Backup.S3.Bucket)

	if v, ok := lookup(EnvHealthMon); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Health.Monitor = b
		}
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "console")

	setDuration(&c.Bridge.CommandTimeout, 30*time.Second)
	setDuration(&c.Bridge.StreamTimeout, 300*time.Second)

	setDuration(&c.Cache.DeviceTTL, 5*time.Second)
	setDuration(&c.Cache.PackageTTL, 300*time.Second)

	setInt(&c.Stream.ChunkSize, 30)
	setInt(&c.Stream.Workers, 4)

	setDuration(&c.Health.Interval, 5*time.Second)
	if c.Health.Interval < time.Second {
		c.Health.Interval = time.Second
	}

	setString(&c.Backup.S3.Bucket, "debloat-backups")

	setString(&c.History.Path, "data/history.db")
	setString(&c.State.OperationsFile, "data/operations.json")

	setString(&c.API.Listen, "127.0.0.1:8765")
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 20
	}
	setInt(&c.API.Burst, 40)

	setDuration(&c.MQTT.ConnectWait, 10*time.Second)
	setString(&c.MQTT.TopicPrefix, "debloat")
	setDuration(&c.MQTT.Heartbeat.Interval, 30*time.Second)
	setInt(&c.MQTT.Command.MaxExecutionTime, 120)

	setString(&c.Identity.AgentFile, "data/agent.json")
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		return errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS)
	}
	if c.Backup.S3.Enabled && (c.Backup.S3.Endpoint == "" || c.Backup.S3.AccessKey == "" || c.Backup.S3.SecretKey == "") {
		return errors.New("backup.s3 requires endpoint, access_key and secret_key")
	}
	return nil
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst <= 0 {
		*dst = def
	}
}
