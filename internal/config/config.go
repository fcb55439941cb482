// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads the plugin configuration from a YAML file and SSE_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Query-farm/sse-plugin/sse"
	"gopkg.in/yaml.v3"
)

// DefaultGRPCPort is the conventional port of SSE plugins.
const DefaultGRPCPort = 50055

type Config struct {
	GRPC      GRPCConfig      `yaml:"grpc"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Engine    EngineConfig    `yaml:"engine"`
	Locale    LocaleConfig    `yaml:"locale"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

type GRPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// CertDir enables mutual TLS. It must hold root_cert.pem,
	// sse_server_cert.pem and sse_server_key.pem.
	CertDir string `yaml:"cert_dir"`
}

// Addr returns the listen address.
func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type HTTPConfig struct {
	Addr             string  `yaml:"addr"`
	Prefix           string  `yaml:"prefix"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
	CompressionLevel int     `yaml:"compression_level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type EngineConfig struct {
	UnknownFunction string `yaml:"unknown_function"`
	ServerID        string `yaml:"server_id"`
}

type LocaleConfig struct {
	CacheSize int `yaml:"cache_size"`
}

type TelemetryConfig struct {
	Stdout bool `yaml:"stdout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GRPC: GRPCConfig{Port: DefaultGRPCPort},
		HTTP: HTTPConfig{
			Addr:             "127.0.0.1:8080",
			Prefix:           "/sse",
			CompressionLevel: 3,
		},
		Engine:    EngineConfig{UnknownFunction: "strict"},
		Locale:    LocaleConfig{CacheSize: 256},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// decode unmarshals onto cfg; keys absent from the document keep their value.
// Unknown keys are rejected.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnvOverrides applies SSE_* variables found through lookup.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("SSE_GRPC_HOST", &cfg.GRPC.Host)
	num("SSE_GRPC_PORT", &cfg.GRPC.Port)
	str("SSE_GRPC_CERT_DIR", &cfg.GRPC.CertDir)
	str("SSE_HTTP_ADDR", &cfg.HTTP.Addr)
	num("SSE_HTTP_RATE_LIMIT_BURST", &cfg.HTTP.RateLimitBurst)
	num("SSE_HTTP_COMPRESSION_LEVEL", &cfg.HTTP.CompressionLevel)
	str("SSE_METRICS_ADDR", &cfg.Metrics.Addr)
	str("SSE_ENGINE_UNKNOWN_FUNCTION", &cfg.Engine.UnknownFunction)
	str("SSE_ENGINE_SERVER_ID", &cfg.Engine.ServerID)
	num("SSE_LOCALE_CACHE_SIZE", &cfg.Locale.CacheSize)
	str("SSE_LOG_LEVEL", &cfg.LogLevel)
	str("SSE_LOG_FORMAT", &cfg.LogFormat)

	if v, ok := lookup("SSE_HTTP_RATE_LIMIT_RPS"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SSE_HTTP_RATE_LIMIT_RPS: %w", err))
		} else {
			cfg.HTTP.RateLimitRPS = f
		}
	}
	if v, ok := lookup("SSE_TELEMETRY_STDOUT"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("SSE_TELEMETRY_STDOUT: %w", err))
		} else {
			cfg.Telemetry.Stdout = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.Locale.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("locale.cache_size must not be negative"))
	}
	if c.HTTP.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit_rps must not be negative"))
	}
	if _, err := sse.ParseUnknownFunctionPolicy(c.Engine.UnknownFunction); err != nil {
		errs = append(errs, fmt.Errorf("engine.unknown_function: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (want text or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// UnknownFunctionPolicy returns the parsed engine policy.
func (c Config) UnknownFunctionPolicy() sse.UnknownFunctionPolicy {
	p, _ := sse.ParseUnknownFunctionPolicy(c.Engine.UnknownFunction)
	return p
}
