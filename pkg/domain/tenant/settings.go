package tenant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Settings is the typed view of the tenant settings JSONB column.
type Settings struct {
	Security SecuritySettings `json:"security"`
}

// SecuritySettings holds sign-in related settings.
type SecuritySettings struct {
	GoogleSSOEnabled bool     `json:"google_sso_enabled"`
	AllowedDomains   []string `json:"allowed_domains"` // empty allows any domain
}

// DefaultSettings returns settings for a new tenant.
func DefaultSettings() Settings {
	return Settings{
		Security: SecuritySettings{
			AllowedDomains: []string{},
		},
	}
}

// ParseSettings decodes the JSONB column. Unknown keys are ignored and an
// empty document yields DefaultSettings.
func ParseSettings(raw []byte) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to parse tenant settings: %w", err)
	}
	return s, nil
}

// IsDomainAllowed reports whether an email's domain may join the tenant.
func (s SecuritySettings) IsDomainAllowed(email string) bool {
	if len(s.AllowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range s.AllowedDomains {
		if strings.EqualFold(domain, strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}
