package config

import (
	"fmt"
	"io"
	"net/url"

	"gopkg.in/yaml.v3"
)

// Dump writes the effective configuration as YAML with secrets redacted. The
// output is a valid configs/application.yaml.
func Dump(w io.Writer, c Config) error {
	if c.Postgres.Password != "" {
		c.Postgres.Password = "xxxxx"
	}
	if u, err := url.Parse(c.Redis.URL); err == nil && c.Redis.URL != "" {
		c.Redis.URL = u.Redacted()
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
