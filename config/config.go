// Package config loads and validates the hub's run-time configuration.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	// DefaultPort is used when neither the config file nor $PORT set one.
	DefaultPort = 8088

	defaultPageSize          = 100
	defaultMaxFileUploadSize = 20 * 1024 * 1024 // 20 MiB, mirrors the literal in spec.md's "overlong body" scenario
	defaultAuthCacheSize     = 50000
	defaultBlacklistCacheSize = 50000
)

// Config is the single run-time record the hub pipeline consults; see
// SPEC_FULL.md §3 "Config record" for the field list.
type Config struct {
	ServerName              string   `json:"serverName"`
	Bucket                  string   `json:"bucket"`
	PageSize                int      `json:"pageSize"`
	CacheControl            string   `json:"cacheControl"`
	ReadURL                 string   `json:"readURL"`
	MaxFileUploadSize       int64    `json:"maxFileUploadSize"`
	AuthTimestampCacheSize  int      `json:"authTimestampCacheSize"`
	BlacklistCacheSize      int      `json:"blacklistCacheSize"`
	Whitelist               []string `json:"whitelist"`
	ValidHubUrls            []string `json:"validHubUrls"`
	RequireCorrectHubURL    bool     `json:"requireCorrectHubUrl"`
	// EnableAssociationBlacklistCheck toggles the association-issuer
	// blacklist check that spec.md §9 notes is commented out upstream.
	// Default false: only the bucket-owning signer is checked.
	EnableAssociationBlacklistCheck bool `json:"enableAssociationBlacklistCheck"`
	Driver                          string `json:"driver"`
	Port                            int    `json:"port"`

	// S3Bucket and S3Region configure driver "s3driver"; unused otherwise.
	S3Bucket string `json:"s3Bucket,omitempty"`
	S3Region string `json:"s3Region,omitempty"`
}

// Default returns a Config with the same defaults the hub falls back to
// when a JSON config file is not supplied.
func Default() *Config {
	return &Config{
		ServerName:             "localhost",
		Bucket:                 "hub",
		PageSize:               defaultPageSize,
		MaxFileUploadSize:      defaultMaxFileUploadSize,
		AuthTimestampCacheSize: defaultAuthCacheSize,
		BlacklistCacheSize:     defaultBlacklistCacheSize,
		Driver:                 "memdriver",
		Port:                   DefaultPort,
	}
}

// Load reads a JSON config file, falling back to Default() for any field
// the file omits, then applies the $PORT environment override (spec.md §6),
// then validates. Mirrors the teacher's "unmarshal onto defaults, then
// validate()" shape (cmn/config.go).
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := jsoniter.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid $PORT %q: %w", portStr, err)
		}
		c.Port = port
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("config: pageSize must be positive, got %d", c.PageSize)
	}
	if c.MaxFileUploadSize <= 0 {
		return fmt.Errorf("config: maxFileUploadSize must be positive, got %d", c.MaxFileUploadSize)
	}
	if c.AuthTimestampCacheSize <= 0 || c.BlacklistCacheSize <= 0 {
		return fmt.Errorf("config: cache sizes must be positive")
	}
	c.ReadURL = strings.TrimSuffix(c.ReadURL, "/")
	return nil
}

// Challenge returns the parts of the canonical gaiaChallenge array; its
// JSON encoding is what the token's `gaiaChallenge` claim must match
// (spec.md §4.1).
func (c *Config) Challenge() []string {
	return []string{"gaiahub", "0", c.ServerName, "blockstack_storage_please_sign"}
}

// HubURLs returns the configured valid hub URLs plus "https://<serverName>",
// as spec.md §4.1 requires when RequireCorrectHubURL is set.
func (c *Config) HubURLs() []string {
	urls := make([]string, 0, len(c.ValidHubUrls)+1)
	urls = append(urls, c.ValidHubUrls...)
	urls = append(urls, "https://"+c.ServerName)
	return urls
}
