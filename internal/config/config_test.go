package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7*24*time.Hour, cfg.Invitation.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Invitation.SweepInterval)
	assert.Equal(t, 90, cfg.Invitation.RetentionDays)
	assert.Equal(t, "0 0 3 * * *", cfg.Invitation.RetentionCron)
	assert.Equal(t, 100, cfg.Invitation.BulkCreateLimit)
	assert.Equal(t, 50, cfg.Invitation.BulkActionLimit)
	assert.Equal(t, 20, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 30*time.Second, cfg.OAuth.HTTPTimeout)
	assert.Equal(t, EmailProviderSMTP, cfg.Email.Provider)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", testSecret)
	t.Setenv("INVITATION_SWEEP_INTERVAL", "30s")
	t.Setenv("EMAIL_PROVIDER", "SendGrid")
	t.Setenv("OAUTH_GOOGLE_SCOPES", "openid, email")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Invitation.SweepInterval)
	assert.Equal(t, EmailProviderSendGrid, cfg.Email.Provider)
	assert.Equal(t, []string{"openid", "email"}, cfg.OAuth.Google.Scopes)
	assert.Equal(t, 8080, cfg.Server.Port, "unparsable values fall back to the default")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"short jwt secret", map[string]string{"AUTH_JWT_SECRET": "short"}, "AUTH_JWT_SECRET"},
		{"bad cron", map[string]string{"INVITATION_RETENTION_CRON": "every day"}, "INVITATION_RETENTION_CRON"},
		{"bad provider", map[string]string{"EMAIL_PROVIDER": "pigeon"}, "EMAIL_PROVIDER"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"bad encryption key", map[string]string{"APP_ENCRYPTION_KEY": "abcd"}, "APP_ENCRYPTION_KEY"},
		{"bad trusted proxy", map[string]string{"SERVER_TRUSTED_PROXIES": "10.0.0.0/8, proxy.internal"}, "SERVER_TRUSTED_PROXIES"},
		{"archive without bucket", map[string]string{"ARCHIVE_ENABLED": "true"}, "ARCHIVE_S3_BUCKET"},
		{"production without tls db", map[string]string{
			"APP_ENV":         EnvProduction,
			"AUTH_JWT_SECRET": strings.Repeat("x", 64),
		}, "database SSL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AUTH_JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEmailConfig_InvitationURL(t *testing.T) {
	c := EmailConfig{BaseURL: "https://app.example.com/", AcceptPath: "/invitations/"}
	assert.Equal(t, "https://app.example.com/invitations/abc", c.InvitationURL("abc"))
}

func TestServerConfig_TrustedProxyPrefixes(t *testing.T) {
	c := ServerConfig{TrustedProxies: []string{"10.1.2.3/8", "192.0.2.10", "::1"}}
	prefixes, err := c.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.10/32", prefixes[1].String())
	assert.Equal(t, "::1/128", prefixes[2].String())

	none, err := ServerConfig{}.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, none)
}
