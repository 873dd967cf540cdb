package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	CatalogPath string `yaml:"catalog_path"`
	WebRoot     string `yaml:"web_root"`
	CertPath    string `yaml:"cert_path"`
	KeyPath     string `yaml:"key_path"`
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg ServerConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &cfg, nil
}
