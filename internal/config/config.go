// Package config loads the application configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/babelloop/babelloop/internal/localservice"
	"github.com/babelloop/babelloop/internal/metrics"
	"github.com/babelloop/babelloop/internal/translate"
)

type Config struct {
	LogLevel     string               `yaml:"log_level"`
	Translate    translate.Config     `yaml:"translate"`
	LocalService localservice.Config  `yaml:"local_service"`
	Metric       metrics.MetricConfig `yaml:"metric"`
}

func NewConfig() *Config {
	return &Config{
		Translate:    translate.NewConfig(),
		LocalService: localservice.NewConfig(),
	}
}

// Load reads and parses the config file. A missing file is not an error when
// optional is set; defaults apply.
func Load(configFile string, optional bool) (cfg *Config, err error) {
	cfg = NewConfig()
	yamlFile, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			if optional {
				return cfg, nil
			}
			err = fmt.Errorf("config file '%s' not found", configFile)
			return
		}
		return nil, fmt.Errorf("read config file '%s' failed: %w", configFile, err)
	}

	err = yaml.Unmarshal(yamlFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse '%s' failed: %w", configFile, err)
	}
	return
}
