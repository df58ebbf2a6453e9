package forgeauth

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config carries the client-credentials grant configuration. None of the
// fields are required at construction time: missing credentials surface as a
// configuration error when the first token acquisition is attempted.
type Config struct {
	// ClientID is the OAuth2 client identifier.
	ClientID string `env:"FORGEAUTH_CLIENT_ID"`

	// ClientSecret is the OAuth2 client secret.
	ClientSecret string `env:"FORGEAUTH_CLIENT_SECRET"`

	// TokenURL is the authentication endpoint the client_credentials grant is
	// POSTed to.
	TokenURL string `env:"FORGEAUTH_TOKEN_URL"`
}

// LoadConfig populates a Config from the process environment.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
