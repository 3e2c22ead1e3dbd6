package graph

import (
	"context"
	"encoding/json"
	"errors"

	"graphmail/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// OAuthConfig builds the authorization code flow configuration for the
// configured tenant
func OAuthConfig(cfg config.GraphConfig) *oauth2.Config {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
	}
}

// EncodeToken serializes a token for the secret store
func EncodeToken(tok *oauth2.Token) ([]byte, error) {
	if tok == nil {
		return nil, errors.New("nil token")
	}
	return json.Marshal(tok)
}

// DecodeToken is the inverse of EncodeToken
func DecodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// notifyingSource calls save whenever the wrapped source hands out a token
// different from the last one, so refreshed tokens get persisted
type notifyingSource struct {
	src  oauth2.TokenSource
	last string
	save func(*oauth2.Token)
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if s.save != nil {
			s.save(tok)
		}
	}
	return tok, nil
}

// TokenSource returns a refreshing source for tok that reports refreshed
// tokens to save
func TokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, save func(*oauth2.Token)) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, &notifyingSource{
		src:  cfg.TokenSource(ctx, tok),
		last: tok.AccessToken,
		save: save,
	})
}
