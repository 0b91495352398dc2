// Package secrets resolves provider credentials from AWS Secrets Manager,
// falling back to environment variables when no secret backend is
// reachable (local development, CI).
package secrets

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Resolver looks up named secrets. A nil client means env-only resolution.
type Resolver struct {
	sm  *secretsmanager.Client
	log *slog.Logger
}

// NewResolver builds a resolver from the ambient AWS configuration. When no
// AWS credentials or region are available it degrades to environment-only
// lookup rather than failing startup.
func NewResolver(ctx context.Context, log *slog.Logger) *Resolver {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil || cfg.Region == "" {
		log.Info("secrets manager unavailable, using environment variables only")
		return &Resolver{log: log}
	}
	return &Resolver{sm: secretsmanager.NewFromConfig(cfg), log: log}
}

// Lookup fetches the secret by name, falling back to the env var when the
// name is empty, the backend is unavailable, or the fetch fails. An empty
// return means the credential is simply not configured.
func (r *Resolver) Lookup(ctx context.Context, name, envVar string) string {
	if name != "" && r.sm != nil {
		out, err := r.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err == nil && out.SecretString != nil {
			return *out.SecretString
		}
		r.log.Warn("secret fetch failed, falling back to environment", "secret", name, "error", err)
	}
	return os.Getenv(envVar)
}
