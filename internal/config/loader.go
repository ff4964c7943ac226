package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load loads configuration from the given YAML file (optional), then
// overrides with environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, GREENAPI_INSTANCE_ID, ...)
//  2. YAML config file, if configPath is non-empty and the file exists
//  3. Hardcoded defaults
//
// Environment variables map to config keys by lowercasing and replacing
// the first underscore with a dot:
//
//	SERVER_PORT             -> server.port
//	GREENAPI_INSTANCE_ID    -> greenapi.instance_id
//	ANTHROPIC_API_KEY       -> anthropic.api_key
//	SESSIONS_CLARIFY_TTL    -> sessions.clarify_ttl
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyTransformer), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyTransformer maps SECTION_FIELD_NAME to section.field_name.
// Variables without an underscore have no section and never match a
// config key, so they are effectively ignored.
func envKeyTransformer(s string) string {
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}
