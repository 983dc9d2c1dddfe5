package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/onhm-labs/onhm-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// ConfigFromEnv reads long-term storage settings. An empty endpoint means
// result handoff to object storage is disabled.
func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ONHM_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ONHM_S3_ENDPOINT", ""),
		AccessKey: env.String("ONHM_S3_ACCESS_KEY", ""),
		SecretKey: env.String("ONHM_S3_SECRET_KEY", ""),
		Region:    env.String("ONHM_S3_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("ONHM_S3_BUCKET", "onhm-results"),
		Prefix:    env.String("ONHM_S3_PREFIX", "batches"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
