package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secret represents the structure of the secret stored in AWS Secrets Manager.
// Empty fields leave the environment value in place.
type Secret struct {
	RedisPassword string `json:"redis_password"`
	DatabaseURL   string `json:"database_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
}

// SecretGetter is the subset of the Secrets Manager API the client needs.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerClient wraps AWS Secrets Manager operations.
type SecretsManagerClient struct {
	client SecretGetter
}

// NewSecretsManagerClient creates a new Secrets Manager client.
// It automatically loads AWS credentials from the Lambda execution role.
func NewSecretsManagerClient(ctx context.Context) (*SecretsManagerClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SecretsManagerClient{
		client: secretsmanager.NewFromConfig(cfg),
	}, nil
}

// NewSecretsManagerClientWith wraps an existing Secrets Manager API client.
func NewSecretsManagerClientWith(client SecretGetter) *SecretsManagerClient {
	return &SecretsManagerClient{client: client}
}

// GetSecret fetches and parses the engine credentials from Secrets Manager.
func (c *SecretsManagerClient) GetSecret(ctx context.Context, secretName string) (*Secret, error) {
	if secretName == "" {
		return nil, fmt.Errorf("secret name is empty")
	}

	output, err := c.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch secret %q from secrets manager: %w", secretName, err)
	}

	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value (binary secrets not supported)", secretName)
	}

	var secret Secret
	if err := json.Unmarshal([]byte(*output.SecretString), &secret); err != nil {
		return nil, fmt.Errorf("parse secret %q as JSON: %w", secretName, err)
	}

	return &secret, nil
}

// Apply overrides credentials in cfg with the non-empty secret fields.
func (s *Secret) Apply(cfg *AppConfig) {
	if s.RedisPassword != "" {
		cfg.Redis.Password = s.RedisPassword
	}
	if s.DatabaseURL != "" {
		cfg.Postgres.URL = s.DatabaseURL
	}
	if s.ClientID != "" {
		cfg.Gateway.ClientID = s.ClientID
	}
	if s.ClientSecret != "" {
		cfg.Gateway.ClientSecret = s.ClientSecret
	}
}

// LoadWithSecrets loads the environment configuration, overlays the secret named
// by SECRETS_NAME when set, and validates the result.
func LoadWithSecrets(ctx context.Context) (*AppConfig, error) {
	cfg := loadFromEnv()

	if cfg.Secrets.Name != "" {
		client, err := NewSecretsManagerClient(ctx)
		if err != nil {
			return nil, err
		}
		secret, err := client.GetSecret(ctx, cfg.Secrets.Name)
		if err != nil {
			return nil, err
		}
		secret.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
