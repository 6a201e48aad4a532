/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kernel

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/srediag/shmregion/internal/logging"
	"github.com/srediag/shmregion/pkg/audit"
	"github.com/srediag/shmregion/pkg/frame"
	"github.com/srediag/shmregion/pkg/region"
	"github.com/srediag/shmregion/pkg/vm"
)

// Config is used to boot a Kernel.
type Config struct {
	Region region.Config    `yaml:"region"`
	Frames frame.PoolConfig `yaml:"frames"`

	// ProcessImageSize is the initial high-water mark of a spawned process.
	ProcessImageSize uintptr `yaml:"processImageSize"`
	// ProcessLimit is the first address a process may not map.
	ProcessLimit uintptr `yaml:"processLimit"`

	// AuditCapacity sizes the audit queue. Zero means audit.DefaultCapacity.
	AuditCapacity int `yaml:"auditCapacity"`

	// Workers bounds the goroutines Run uses.
	Workers int `yaml:"workers"`

	// LogLevel, when set, is applied with logging.SetLogLevel at boot.
	LogLevel *int `yaml:"logLevel,omitempty"`
}

// DefaultConfig is used to create a default config.
func DefaultConfig() *Config {
	return &Config{
		Region:           *region.DefaultConfig(),
		Frames:           *frame.DefaultPoolConfig(),
		ProcessImageSize: 4 * vm.PageSize,
		ProcessLimit:     vm.DefaultLimit,
		AuditCapacity:    audit.DefaultCapacity,
		Workers:          8,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if err := region.VerifyConfig(&config.Region); err != nil {
		return errors.Wrap(err, "region")
	}
	if err := frame.VerifyPoolConfig(&config.Frames); err != nil {
		return errors.Wrap(err, "frames")
	}
	if config.ProcessLimit == 0 || config.ProcessLimit%vm.PageSize != 0 {
		return errors.Errorf("process limit %#x must be a non-zero multiple of the page size", config.ProcessLimit)
	}
	if config.ProcessImageSize >= config.ProcessLimit {
		return errors.Errorf("process image size %#x reaches the process limit %#x",
			config.ProcessImageSize, config.ProcessLimit)
	}
	if config.AuditCapacity < 0 {
		return errors.Errorf("audit capacity must not be negative, got %d", config.AuditCapacity)
	}
	if config.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", config.Workers)
	}
	if config.LogLevel != nil && (*config.LogLevel < logging.LevelTrace || *config.LogLevel > logging.LevelNoPrint) {
		return errors.Errorf("log level %d out of range", *config.LogLevel)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig and verifies the result.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML on top of DefaultConfig and verifies the result.
func ParseConfig(b []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
