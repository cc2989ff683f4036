package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the kiosk agent's policy file. Zero fields fall back to defaults.
type AgentConfig struct {
	APIBaseURL  string        `yaml:"api_base_url"`
	IPLookupURL string        `yaml:"ip_lookup_url"`
	DraftPath   string        `yaml:"draft_path"`
	Proctor     ProctorPolicy `yaml:"proctor"`
}

// LoadAgent reads the YAML policy at path and merges it over the environment config.
// An empty path returns the environment-derived values unchanged.
func LoadAgent(path string, base *Config) (AgentConfig, error) {
	cfg := AgentConfig{
		APIBaseURL:  base.APIBaseURL,
		IPLookupURL: base.IPLookupURL,
		DraftPath:   "proctor-drafts.db",
		Proctor:     base.Proctor,
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read agent config: %w", err)
	}

	var file AgentConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse agent config: %w", err)
	}

	if file.APIBaseURL != "" {
		cfg.APIBaseURL = file.APIBaseURL
	}
	if file.IPLookupURL != "" {
		cfg.IPLookupURL = file.IPLookupURL
	}
	if file.DraftPath != "" {
		cfg.DraftPath = file.DraftPath
	}
	cfg.Proctor = mergePolicy(cfg.Proctor, file.Proctor)
	return cfg, nil
}

func mergePolicy(base, over ProctorPolicy) ProctorPolicy {
	if over.PrepareDuration > 0 {
		base.PrepareDuration = over.PrepareDuration
	}
	if over.GraceDuration > 0 {
		base.GraceDuration = over.GraceDuration
	}
	if over.TabSwitchDedup > 0 {
		base.TabSwitchDedup = over.TabSwitchDedup
	}
	if over.ReloadGrace > 0 {
		base.ReloadGrace = over.ReloadGrace
	}
	if over.LoadRetry > 0 {
		base.LoadRetry = over.LoadRetry
	}
	if over.TickInterval > 0 {
		base.TickInterval = over.TickInterval
	}
	if over.SubmitTimeout > 0 {
		base.SubmitTimeout = over.SubmitTimeout
	}
	if over.SubmitConfirmation != "" {
		base.SubmitConfirmation = over.SubmitConfirmation
	}
	return base
}
