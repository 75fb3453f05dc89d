// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/order"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Database struct {
		// URL selects the backend; empty means in-memory.
		URL         string `envconfig:"DATABASE_URL"`
		AutoMigrate bool   `envconfig:"AUTO_MIGRATE" default:"true"`
	}

	Redis struct {
		URL      string        `envconfig:"REDIS_URL"`
		CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	}

	Quote struct {
		APIKey string `envconfig:"QUOTE_API_KEY"`
		// APIKeySecretID names an AWS Secrets Manager secret holding the
		// key. Used only when APIKey is empty.
		APIKeySecretID string        `envconfig:"QUOTE_API_KEY_SECRET_ID"`
		AWSRegion      string        `envconfig:"AWS_REGION" default:"us-east-1"`
		BaseURL        string        `envconfig:"QUOTE_BASE_URL" default:"https://www.alphavantage.co/query"`
		Timeout        time.Duration `envconfig:"QUOTE_TIMEOUT" default:"10s"`
		CacheTTL       time.Duration `envconfig:"QUOTE_CACHE_TTL" default:"60s"`
	}

	Auth struct {
		JWTSecret    string        `envconfig:"JWT_SECRET_KEY"`
		TokenTTL     time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
		StartingCash string        `envconfig:"STARTING_CASH" default:"10000.00"`
	}

	Trading struct {
		CostBasis        string `envconfig:"COST_BASIS_METHOD" default:"latest"`
		SnapshotSchedule string `envconfig:"SNAPSHOT_SCHEDULE" default:"@every 5m"`
	}
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY must be set")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	cash, err := money.Parse(c.Auth.StartingCash)
	if err != nil {
		return fmt.Errorf("STARTING_CASH: %w", err)
	}
	if cash.IsNegative() {
		return errors.New("STARTING_CASH must not be negative")
	}
	if _, err := order.ParseCostBasis(c.Trading.CostBasis); err != nil {
		return fmt.Errorf("COST_BASIS_METHOD: %w", err)
	}
	if c.Quote.Timeout <= 0 {
		return errors.New("QUOTE_TIMEOUT must be positive")
	}
	return nil
}

// StartingCash is the parsed STARTING_CASH. Call after Validate.
func (c *Config) StartingCash() money.Money {
	return money.MustParse(c.Auth.StartingCash)
}

// CostBasis is the parsed COST_BASIS_METHOD. Call after Validate.
func (c *Config) CostBasis() order.CostBasis {
	cb, _ := order.ParseCostBasis(c.Trading.CostBasis)
	return cb
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SecretGetter fetches a secret's string value by id.
type SecretGetter interface {
	GetSecretValue(secretID string) (string, error)
}

// ResolveQuoteKey fills Quote.APIKey from the secret store when only a
// secret id is configured. A nil getter makes one from the AWS region.
func (c *Config) ResolveQuoteKey(getter SecretGetter) error {
	if c.Quote.APIKey != "" || c.Quote.APIKeySecretID == "" {
		return nil
	}
	if getter == nil {
		sm, err := NewSecretManager(c.Quote.AWSRegion)
		if err != nil {
			return err
		}
		getter = sm
	}
	key, err := getter.GetSecretValue(c.Quote.APIKeySecretID)
	if err != nil {
		return fmt.Errorf("resolve quote api key: %w", err)
	}
	c.Quote.APIKey = key
	return nil
}

// SecretManager reads secrets from AWS Secrets Manager.
type SecretManager struct {
	svc *secretsmanager.SecretsManager
}

func NewSecretManager(region string) (*SecretManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &SecretManager{svc: secretsmanager.New(sess)}, nil
}

func (s *SecretManager) GetSecretValue(secretID string) (string, error) {
	result, err := s.svc.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", err
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	return *result.SecretString, nil
}
