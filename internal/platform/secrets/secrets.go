// Package secrets resolves the token signing secret at startup.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrSecretNotFound = errors.New("signing secret not found")

// Config locates the signing secret. When Name is empty the secret is
// read from JWT_SECRET instead of AWS Secrets Manager.
type Config struct {
	Name     string `env:"SECRET_NAME"`
	KeyField string `env:"SECRET_KEY_FIELD" envDefault:"SECRET_KEY"`
}

type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ManagerProvider reads a JSON secret from AWS Secrets Manager.
type ManagerProvider struct {
	client   secretsAPI
	name     string
	keyField string
}

func NewManagerProvider(cfg aws.Config, name, keyField string) *ManagerProvider {
	return newManagerProvider(secretsmanager.NewFromConfig(cfg), name, keyField)
}

func newManagerProvider(client secretsAPI, name, keyField string) *ManagerProvider {
	if keyField == "" {
		keyField = "SECRET_KEY"
	}
	return &ManagerProvider{client: client, name: name, keyField: keyField}
}

// Secret fetches the secret string and returns the configured field.
// A secret that is not a JSON object is returned as is.
func (p *ManagerProvider) Secret(ctx context.Context) (string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", p.name, err)
	}
	raw := aws.ToString(out.SecretString)
	if raw == "" {
		return "", fmt.Errorf("%w: %q has no string value", ErrSecretNotFound, p.name)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return raw, nil
	}
	v := fields[p.keyField]
	if v == "" {
		return "", fmt.Errorf("%w: field %q missing in %q", ErrSecretNotFound, p.keyField, p.name)
	}
	return v, nil
}

// StaticProvider returns a fixed secret, typically JWT_SECRET.
type StaticProvider string

func (s StaticProvider) Secret(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: JWT_SECRET is empty", ErrSecretNotFound)
	}
	return string(s), nil
}
