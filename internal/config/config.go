package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Scoring struct {
		BasePoints        int `yaml:"basePoints"`
		MaxPoints         int `yaml:"maxPoints"`
		FirstCorrectBonus int `yaml:"firstCorrectBonus"`
		ClickAward        int `yaml:"clickAward"`
	} `yaml:"scoring"`
	Session struct {
		DefaultDuration string `yaml:"defaultDuration"`
	} `yaml:"session"`
	Sweep struct {
		Interval string `yaml:"interval"`
	} `yaml:"sweep"`
	Leaderboard struct {
		TTL string `yaml:"ttl"`
	} `yaml:"leaderboard"`
	Levels []int `yaml:"levels"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
