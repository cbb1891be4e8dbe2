package strategyconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wonny/aegis/weightgov/pkg/config"
)

// Load reads the strategy YAML and returns Config with raw bytes.
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func Load(path string, bounds config.SafetyBounds) (*Config, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Parse(data, bounds)
	if err != nil {
		return nil, data, fmt.Errorf("strategy file %s: %w", path, err)
	}
	return cfg, data, nil
}

// Parse decodes and validates a strategy document
func Parse(data []byte, bounds config.SafetyBounds) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg, bounds); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path, or returns the built-in config when path is empty
func LoadOrDefault(path string, bounds config.SafetyBounds) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := Validate(cfg, bounds); err != nil {
			return nil, fmt.Errorf("built-in presets: %w", err)
		}
		return cfg, nil
	}
	cfg, _, err := Load(path, bounds)
	return cfg, err
}

// Hash generates SHA256 hash from Config (canonical JSON)
// map 키는 encoding/json이 정렬하므로 결정적
func Hash(cfg *Config) (string, error) {
	jsonBytes, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
