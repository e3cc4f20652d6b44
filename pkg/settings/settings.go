// Package settings loads and validates the fib optimizer configuration.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/fibopt/pkg/prefixlist"
	"github.com/newtron-network/fibopt/pkg/util"
)

// Environment variables that override file values
const (
	EnvSIRURL         = "FIBOPT_SIR_URL"
	EnvDevicePassword = "FIBOPT_DEVICE_PASSWORD"
	EnvPath           = "FIBOPT_PATH"
	EnvExclude        = "FIBOPT_EXCLUDE_PREFIXES" // comma-separated
)

// Device channel kinds
const (
	DeviceEOS      = "eos"      // FastCli on the local switch
	DeviceEOSSSH   = "eos-ssh"  // FastCli on a remote switch over SSH
	DeviceConfigDB = "configdb" // SONiC CONFIG_DB PREFIX_SET over Redis
)

// Config holds every option of a run.
type Config struct {
	// Age is the window size in observation steps.
	Age int `yaml:"age" validate:"required,gte=1"`
	// MaxLEMPrefixes is the LEM list capacity.
	MaxLEMPrefixes int `yaml:"max_lem_prefixes" validate:"required,gte=1"`
	// MaxLPMPrefixes is the LPM list capacity.
	MaxLPMPrefixes int `yaml:"max_lpm_prefixes" validate:"required,gte=1"`
	// LEMPrefixes is the mask length that makes a prefix LEM.
	LEMPrefixes int `yaml:"lem_prefixes" validate:"gte=0,lte=32"`
	// Path is the directory prefix list files are stored in.
	Path string `yaml:"path" validate:"required"`
	// PurgeOlderThan is the analytics retention in hours.
	PurgeOlderThan int `yaml:"purge_older_than" validate:"required,gte=1"`
	// SettleInterval separates the LPM and LEM device pushes.
	SettleInterval time.Duration `yaml:"settle_interval" validate:"gte=0"`
	// MaxDataAge is the freshness limit for the newest observation.
	MaxDataAge time.Duration `yaml:"max_data_age" validate:"gt=0"`
	// ExcludePrefixes never receive fast-path treatment, nor does anything inside them.
	ExcludePrefixes []string `yaml:"exclude_prefixes" validate:"dive,cidrv4"`
	// MetricsTextfile is a node_exporter textfile path; empty disables metrics.
	MetricsTextfile string `yaml:"metrics_textfile"`
	// LockFile serializes runs; defaults to <path>/fib_optimizer.lock.
	LockFile string `yaml:"lock_file"`

	Device DeviceConfig `yaml:"device"`
	SIR    SIRConfig    `yaml:"sir"`
	Audit  AuditConfig  `yaml:"audit"`
}

// DeviceConfig selects and addresses the device configuration channel.
type DeviceConfig struct {
	Kind     string `yaml:"kind" validate:"oneof=eos eos-ssh configdb"`
	Host     string `yaml:"host" validate:"required_unless=Kind eos"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Netns is the network namespace FastCli runs in.
	Netns string `yaml:"netns"`
	// RedisDB is the CONFIG_DB index.
	RedisDB int `yaml:"redis_db" validate:"gte=0"`
	// Tunnel reaches Redis through SSH instead of connecting directly.
	Tunnel bool `yaml:"tunnel"`
}

// SIRConfig addresses the traffic-analytics API.
type SIRConfig struct {
	URL                string        `yaml:"url" validate:"required,url"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	Path       string            `yaml:"path"`
	MaxSize    datasize.ByteSize `yaml:"max_size"`
	MaxBackups int               `yaml:"max_backups" validate:"gte=0"`
}

// DefaultConfig returns a Config with every optional value set.
func DefaultConfig() *Config {
	return &Config{
		LEMPrefixes:    24,
		SettleInterval: 30 * time.Second,
		MaxDataAge:     48 * time.Hour,
		Device: DeviceConfig{
			Kind:    DeviceEOS,
			Netns:   "default",
			RedisDB: 4,
		},
		SIR: SIRConfig{
			Timeout: 60 * time.Second,
		},
		Audit: AuditConfig{
			MaxSize:    10 * datasize.MB,
			MaxBackups: 10,
		},
	}
}

// Parse decodes YAML (or JSON) over the defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a configuration file. It does not validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	return Parse(data)
}

// LoadEnv loads .env files into the process environment. Variables already
// set are kept. Missing files are not an error.
func LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides file values with FIBOPT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSIRURL); v != "" {
		c.SIR.URL = v
	}
	if v := os.Getenv(EnvDevicePassword); v != "" {
		c.Device.Password = v
	}
	if v := os.Getenv(EnvPath); v != "" {
		c.Path = v
	}
	if v := os.Getenv(EnvExclude); v != "" {
		c.ExcludePrefixes = util.SplitCommaSeparated(v)
	}
}

// Capacity returns the maximum entry count of a class.
func (c *Config) Capacity(class prefixlist.Class) int {
	if class == prefixlist.LEM {
		return c.MaxLEMPrefixes
	}
	return c.MaxLPMPrefixes
}

// LockPath returns the run lock file.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return filepath.Join(c.Path, "fib_optimizer.lock")
}

// PurgeThreshold returns the cutoff for retention purges.
func (c *Config) PurgeThreshold(now time.Time) time.Time {
	return now.Add(-time.Duration(c.PurgeOlderThan) * time.Hour)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports absent required options as ConfigurationMissingError and
// everything else as ValidationError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var missing []string
	vb := &util.ValidationBuilder{}
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required", "required_unless":
			missing = append(missing, key)
		default:
			vb.AddErrorf("%s: failed %q check (value %v)", key, tagWithParam(fe), fe.Value())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return util.NewConfigurationMissingError(missing...)
	}
	return vb.Build()
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
