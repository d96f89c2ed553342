// Package config resolves the deploy settings for the t4dev CLI.
//
// Values are layered with github.com/spf13/viper, highest precedence first:
//
//  1. command-line flags (only when explicitly set)
//  2. environment variables prefixed with T4DEV_ (T4DEV_STACK_NAME, ...)
//  3. a YAML config file (--config, or ./.t4dev.yaml when present)
//  4. built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when looking up environment variables.
const EnvPrefix = "T4DEV"

// DefaultConfigFile is read from the working directory when --config is
// not given and the file exists.
const DefaultConfigFile = ".t4dev.yaml"

// Keys shared by flags, environment variables and the config file.
const (
	KeyStackName    = "stack-name"
	KeyTemplate     = "template"
	KeyRegion       = "region"
	KeyProfile      = "profile"
	KeyPollInterval = "poll-interval"
	KeyTimeout      = "timeout"
	KeyKeyName      = "key-name"
	KeyMyIP         = "my-ip"
)

// Defaults for the development stack.
const (
	DefaultStackName    = "t4-dev-environment"
	DefaultTemplate     = "cloudformation.yaml"
	DefaultRegion       = "us-east-1"
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 30 * time.Minute
)

// Config holds the resolved settings for one deploy invocation.
type Config struct {
	StackName    string
	TemplatePath string
	Region       string
	Profile      string
	PollInterval time.Duration
	Timeout      time.Duration
	KeyName      string
	MyIP         string
}

// New returns a viper instance with defaults and environment lookup wired.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyStackName, DefaultStackName)
	v.SetDefault(KeyTemplate, DefaultTemplate)
	v.SetDefault(KeyRegion, DefaultRegion)
	v.SetDefault(KeyProfile, "")
	v.SetDefault(KeyPollInterval, DefaultPollInterval)
	v.SetDefault(KeyTimeout, DefaultTimeout)
	v.SetDefault(KeyKeyName, "")
	v.SetDefault(KeyMyIP, "")

	// T4DEV_STACK_NAME maps to "stack-name".
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags declares the deploy flags on fs. Flag defaults mirror the
// viper defaults so that --help shows the effective values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyStackName, DefaultStackName, "Name of the CloudFormation stack")
	fs.String(KeyTemplate, DefaultTemplate, "Path to the CloudFormation template (YAML, JSON or JSONC)")
	fs.String(KeyRegion, DefaultRegion, "AWS region")
	fs.String(KeyProfile, "", "AWS shared config profile (default: SDK credential chain)")
	fs.Duration(KeyPollInterval, DefaultPollInterval, "Interval between stack status polls")
	fs.Duration(KeyTimeout, DefaultTimeout, "Maximum time to wait for a stack operation")
	fs.String(KeyKeyName, "", "EC2 Key Pair name for SSH access")
	fs.String(KeyMyIP, "", "Your IP address for SSH access (x.x.x.x or x.x.x.x/32)")
}

// BindFlags binds every registered deploy flag in fs to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, key := range []string{
		KeyStackName, KeyTemplate, KeyRegion, KeyProfile,
		KeyPollInterval, KeyTimeout, KeyKeyName, KeyMyIP,
	} {
		flag := fs.Lookup(key)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", key, err)
		}
	}
	return nil
}

// ReadFile loads a YAML config file into v. An explicit path must exist.
// With an empty path, DefaultConfigFile is read only when present.
func ReadFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Load resolves v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		StackName:    strings.TrimSpace(v.GetString(KeyStackName)),
		TemplatePath: v.GetString(KeyTemplate),
		Region:       v.GetString(KeyRegion),
		Profile:      v.GetString(KeyProfile),
		PollInterval: v.GetDuration(KeyPollInterval),
		Timeout:      v.GetDuration(KeyTimeout),
		KeyName:      v.GetString(KeyKeyName),
		MyIP:         v.GetString(KeyMyIP),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the stack manager relies on.
func (c *Config) Validate() error {
	if c.StackName == "" {
		return fmt.Errorf("stack name must not be empty")
	}
	if c.TemplatePath == "" {
		return fmt.Errorf("template path must not be empty")
	}
	if c.Region == "" {
		return fmt.Errorf("region must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.PollInterval > c.Timeout {
		return fmt.Errorf("poll interval %s exceeds timeout %s", c.PollInterval, c.Timeout)
	}
	return nil
}
