package devbackend

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatwidget/pkg/widget/chat"
	"github.com/go-go-golems/chatwidget/pkg/widget/config"
)

// DefaultRateLimit is the chat budget per tenant and minute.
const DefaultRateLimit = 10

// TenantConfig is the stored configuration of one tenant.
type TenantConfig struct {
	ClientID       string            `json:"client_id" yaml:"client_id" validate:"notblank"`
	Name           string            `json:"name" yaml:"name"`
	Theme          map[string]string `json:"theme" yaml:"theme"`
	WelcomeMessage string            `json:"welcome_message" yaml:"welcome_message"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	RateLimit      int               `json:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
}

// NewTenantConfig returns the defaults a freshly onboarded tenant gets.
func NewTenantConfig(clientID string) TenantConfig {
	return TenantConfig{
		ClientID: clientID,
		Theme: map[string]string{
			"primary_color":    config.DefaultPrimaryColor,
			"background_color": config.DefaultBackgroundColor,
			"text_color":       config.DefaultTextColor,
		},
		WelcomeMessage: chat.FallbackWelcome,
		Enabled:        true,
		RateLimit:      DefaultRateLimit,
	}
}

// DecodeTenantConfig reads a full config object for clientID. Missing
// fields keep their defaults; the client id always comes from the path.
func DecodeTenantConfig(clientID string, body []byte) (TenantConfig, error) {
	cfg := NewTenantConfig(clientID)
	if err := json.Unmarshal(body, &cfg); err != nil {
		return TenantConfig{}, errors.Wrap(err, "decode tenant config")
	}
	cfg.ClientID = clientID
	return cfg, cfg.Validate()
}

func (c TenantConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return nil
}

// PublicView is the document the widget fetches.
func (c TenantConfig) PublicView() map[string]any {
	return map[string]any{
		"theme":           c.Theme,
		"welcome_message": c.WelcomeMessage,
		"enabled":         c.Enabled,
	}
}
