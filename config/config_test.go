package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(`
[graph]
client_id = "app"

[server]
base_url = "https://mail.example.com/"
`)
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, TransportGraph, cfg.Transport.Kind)
	require.Equal(t, "https://mail.example.com/auth/callback", cfg.Graph.RedirectURL)
	require.Equal(t, ImportanceDefaultNormal, cfg.Composer.MissingImportance)
	require.Equal(t, 5*time.Minute, cfg.Calendar.CacheTTL.Duration)
	require.Equal(t, "sunday", cfg.Calendar.WeekStart)
}

func TestParseIMAPTransportDerivesSMTPServer(t *testing.T) {
	cfg, err := Parse(`
[transport]
kind = "IMAP"

[imap]
server = "imap.example.com"

[composer]
missing_importance = "reject"
submit_timeout = "45s"
`)
	require.NoError(t, err)
	require.Equal(t, TransportIMAP, cfg.Transport.Kind)
	require.Equal(t, "smtp.example.com", cfg.SMTP.Server)
	require.Equal(t, 587, cfg.SMTP.GetPort())
	require.Equal(t, ImportanceReject, cfg.Composer.MissingImportance)
	require.Equal(t, 45*time.Second, cfg.Composer.SubmitTimeout.Duration)
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"missing client id": ``,
		"unknown transport": "[transport]\nkind = \"pigeon\"",
		"bad policy":        "[graph]\nclient_id = \"a\"\n[composer]\nmissing_importance = \"guess\"",
		"bad week start":    "[graph]\nclient_id = \"a\"\n[calendar]\nweek_start = \"friday\"",
		"short key":         "[graph]\nclient_id = \"a\"\n[encryption]\nkey = \"short\"",
		"ssl without files": "[graph]\nclient_id = \"a\"\n[ssl]\nenabled = true",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(data)
			require.Error(t, err)
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[graph]\nclient_id = \"app\"\n[server]\nport = 8080\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
