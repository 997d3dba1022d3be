package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/secretmanager/v1"
)

// GCPProvider reads the latest version of a secret from Google Secret Manager.
type GCPProvider struct {
	service   *secretmanager.Service
	projectID string
	logger    zerolog.Logger
}

// NewGCPProvider creates a Secret Manager client for projectID.
func NewGCPProvider(ctx context.Context, projectID string, logger zerolog.Logger, opts ...option.ClientOption) (*GCPProvider, error) {
	if projectID == "" {
		return nil, fmt.Errorf("gcp project id is required")
	}
	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &GCPProvider{
		service:   svc,
		projectID: projectID,
		logger:    logger,
	}, nil
}

// SecretVersionName returns projects/{project}/secrets/{id}/versions/latest.
func SecretVersionName(projectID, id string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, id)
}

// Get implements Provider.
func (p *GCPProvider) Get(ctx context.Context, id string) string {
	name := SecretVersionName(p.projectID, id)

	resp, err := p.service.Projects.Secrets.Versions.Access(name).Context(ctx).Do()
	if err != nil {
		p.logger.Error().Err(err).Str("secret", id).Msg("Failed to access secret")
		return ""
	}
	if resp.Payload == nil {
		p.logger.Error().Str("secret", id).Msg("Secret version has no payload")
		return ""
	}

	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		p.logger.Error().Err(err).Str("secret", id).Msg("Failed to decode secret payload")
		return ""
	}
	return strings.TrimSpace(string(data))
}
