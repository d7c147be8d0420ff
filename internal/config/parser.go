package config

import (
	"encoding/json"
	"path/filepath"
)

func ParseConfig(byteConfig []byte) (*Config, error) {
	var cfg Config
	err := json.Unmarshal(byteConfig, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Chromedp.UserDataDir != "" {
		absPath, err := filepath.Abs(cfg.Chromedp.UserDataDir)
		if err != nil {
			return nil, err
		}
		cfg.Chromedp.UserDataDir = absPath
	}
	if cfg.Rod.UserDataDir != "" {
		absPath, err := filepath.Abs(cfg.Rod.UserDataDir)
		if err != nil {
			return nil, err
		}
		cfg.Rod.UserDataDir = absPath
	}
	return &cfg, nil
}
