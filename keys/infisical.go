package keys

import (
	"context"
	"fmt"

	infisical "github.com/infisical/go-sdk"
	"github.com/infisical/go-sdk/packages/models"
	"github.com/sirupsen/logrus"

	config "github.com/SyneHQ/forge-runner"
)

// NewInfisicalSecrets logs in with universal auth and lists the project's
// secrets, attaching them to the process environment so storage and cloud
// clients pick up credentials.
func NewInfisicalSecrets(ctx context.Context, cfg config.InfisicalConfig, log logrus.FieldLogger) ([]models.Secret, error) {
	log.WithField("status", "setup").Debug("initializing Infisical client")

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          cfg.SiteURL, // Optional, default is https://app.infisical.com
		AutoTokenRefresh: true,
	})

	if _, err := client.Auth().UniversalAuthLogin(cfg.ClientID, cfg.ClientSecret); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Infisical: %w", err)
	}

	sec, err := client.Secrets().List(infisical.ListSecretsOptions{
		ProjectID:          cfg.ProjectID,
		Environment:        cfg.Environment,
		AttachToProcessEnv: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets from Infisical: %w", err)
	}

	log.WithField("status", "setup").Infof("Loaded %d secrets from Infisical", len(sec))
	return sec, nil
}
