package secrets

import (
	"os"
	"strings"

	"github.com/infisical/go-sdk/packages/models"
	"github.com/sirupsen/logrus"

	config "github.com/SyneHQ/forge-runner"
)

// Filter resolves the configured secret list against secrets fetched from
// Infisical. A configured value containing "$" is a reference: it is taken
// from the fetched secrets, or failing that from the environment. Any other
// value is used literally.
func Filter(secrets []models.Secret, secretsConfig []config.SecretConfig, log logrus.FieldLogger) []models.Secret {
	secretMap := make(map[string]models.Secret, len(secrets))
	for _, s := range secrets {
		secretMap[s.SecretKey] = s
	}

	out := make([]models.Secret, 0, len(secretsConfig))
	for _, c := range secretsConfig {
		if !strings.Contains(c.Value, "$") {
			out = append(out, models.Secret{SecretKey: c.Name, SecretValue: c.Value})
			continue
		}
		if s, ok := secretMap[c.Name]; ok {
			out = append(out, s)
			continue
		}
		value := os.Getenv(c.Name)
		if value == "" {
			log.Warnf("Secret %s not found in environment", c.Name)
			continue
		}
		out = append(out, models.Secret{SecretKey: c.Name, SecretValue: value})
	}
	return out
}
