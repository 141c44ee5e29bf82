// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements loading and validation of the linkfield
// configuration. Values come from, in increasing order of precedence, the
// defaults in the struct tags, an optional YAML file and LINKFIELD_*
// environment variables. Command line flags are applied on top by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/linkfield/linkfield/lib/db/backend"
)

const (
	EnvPrefix = "LINKFIELD"

	ScanModeFull      = "full"
	ScanModeStreaming = "streaming"
)

type Configuration struct {
	Backend BackendConfiguration `mapstructure:"backend" yaml:"backend"`
	Scan    ScanConfiguration    `mapstructure:"scan" yaml:"scan"`
	Watch   WatchConfiguration   `mapstructure:"watch" yaml:"watch"`
	Store   StoreConfiguration   `mapstructure:"store" yaml:"store"`
	Metrics MetricsConfiguration `mapstructure:"metrics" yaml:"metrics"`
	Ignore  IgnoreConfiguration  `mapstructure:"ignore" yaml:"ignore"`
}

type BackendConfiguration struct {
	Type string `mapstructure:"type" yaml:"type" default:"leveldb" validate:"oneof=leveldb badger memory"`
	// Backend specific settings, decoded by the backend itself.
	LevelDB map[string]any `mapstructure:"leveldb" yaml:"leveldb,omitempty"`
	Badger  map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// Options returns the option map for the selected backend type.
func (c BackendConfiguration) Options() map[string]any {
	switch backend.Type(c.Type) {
	case backend.TypeLevelDB:
		return c.LevelDB
	case backend.TypeBadger:
		return c.Badger
	default:
		return nil
	}
}

type ScanConfiguration struct {
	Mode      string `mapstructure:"mode" yaml:"mode" default:"full" validate:"oneof=full streaming"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size" default:"1000" validate:"gt=0"`
	// Zero means one per CPU.
	Workers        int           `mapstructure:"workers" yaml:"workers" default:"0" validate:"gte=0"`
	RescanInterval time.Duration `mapstructure:"rescan_interval" yaml:"rescan_interval" default:"0s" validate:"gte=0"`
}

type WatchConfiguration struct {
	Debounce          time.Duration `mapstructure:"debounce" yaml:"debounce" default:"500ms" validate:"gt=0"`
	MaxAge            time.Duration `mapstructure:"max_age" yaml:"max_age" default:"5s" validate:"gt=0"`
	RecentlyMovedSize int           `mapstructure:"recently_moved_size" yaml:"recently_moved_size" default:"1024" validate:"gt=0"`
}

type StoreConfiguration struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval" default:"0s" validate:"gte=0"`
}

type MetricsConfiguration struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

type IgnoreConfiguration struct {
	// Relative to the watched directory.
	File string `mapstructure:"file" yaml:"file" default:".linkfieldignore"`
}

// New returns a configuration holding the defaults.
func New() Configuration {
	var cfg Configuration
	setDefaults(&cfg)
	return cfg
}

// Load reads the configuration. An empty path searches the default
// location; a missing file there is not an error, but a missing explicit
// file is.
func Load(path string) (Configuration, error) {
	cfg := New()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Environment variables are only consulted for known keys.
	registerKeys(v, "", reflect.ValueOf(cfg))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Configuration{}, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		l.Debugln("Using config file", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the values against their constraints.
func (cfg *Configuration) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("invalid configuration: %s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// ConfigDir is where the configuration file is looked for by default.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "linkfield")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "linkfield")
}

// registerKeys tells viper about every leaf key, with its default.
func registerKeys(v *viper.Viper, prefix string, s reflect.Value) {
	t := s.Type()
	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		switch {
		case f.Kind() == reflect.Struct:
			registerKeys(v, key, f)
		case f.Kind() == reflect.Map:
			// Option maps are only read from the file.
		default:
			v.SetDefault(key, f.Interface())
		}
	}
}
