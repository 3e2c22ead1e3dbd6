package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"graphmail/composer"
	"graphmail/config"
	"graphmail/graph"
	"graphmail/mailer"
	"graphmail/models"
	"graphmail/storage"
	"graphmail/utils"

	"golang.org/x/oauth2"
)

// Backend is everything the handlers need from the user's mail service
type Backend interface {
	composer.Transport
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
}

// BackendFactory builds the Backend of a signed-in user
type BackendFactory interface {
	For(ctx context.Context, userID string) (Backend, error)
	Forget(userID string)
}

// Backends builds per-user backends from the secrets stored at login and
// keeps them for reuse
type Backends struct {
	cfg     *config.Config
	secrets *storage.SecretStore
	oauth   *oauth2.Config

	mu      sync.Mutex
	clients map[string]Backend
}

// NewBackends creates the factory for the configured transport kind
func NewBackends(cfg *config.Config, secrets *storage.SecretStore) *Backends {
	b := &Backends{
		cfg:     cfg,
		secrets: secrets,
		clients: make(map[string]Backend),
	}
	if cfg.Transport.Kind == config.TransportGraph {
		b.oauth = graph.OAuthConfig(cfg.Graph)
	}
	return b
}

// OAuth returns the OAuth configuration, nil in imap mode
func (b *Backends) OAuth() *oauth2.Config {
	return b.oauth
}

func (b *Backends) For(ctx context.Context, userID string) (Backend, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if be, ok := b.clients[userID]; ok {
		return be, nil
	}

	secret, err := b.secrets.Get(userID)
	if err != nil {
		if errors.Is(err, storage.ErrSecretNotFound) {
			return nil, utils.UnauthorizedError("Session expired, sign in again", err)
		}
		return nil, utils.InternalServerError("Failed to load credentials", err)
	}

	var be Backend
	switch b.cfg.Transport.Kind {
	case config.TransportIMAP:
		var creds models.Credentials
		if err := json.Unmarshal(secret, &creds); err != nil {
			return nil, utils.InternalServerError("Failed to load credentials", err)
		}
		be = &imapBackend{Mailer: mailer.New(b.cfg.IMAP, b.cfg.SMTP, creds)}
	default:
		tok, err := graph.DecodeToken(secret)
		if err != nil {
			return nil, utils.InternalServerError("Failed to load credentials", err)
		}
		src := graph.TokenSource(context.Background(), b.oauth, tok, func(fresh *oauth2.Token) {
			if err := b.StoreToken(userID, fresh); err != nil {
				utils.Log.Warn("Failed to persist refreshed token for %s: %v", userID, err)
			}
		})
		be = graph.NewClient(src, graph.Options{
			BaseURL:           b.cfg.Graph.BaseURL,
			RequestsPerSecond: b.cfg.Graph.RequestsPerSecond,
			Trace:             b.cfg.Graph.Trace,
		})
	}
	b.clients[userID] = be
	return be, nil
}

// StoreToken seals an OAuth token for the user
func (b *Backends) StoreToken(userID string, tok *oauth2.Token) error {
	data, err := graph.EncodeToken(tok)
	if err != nil {
		return err
	}
	return b.secrets.Put(userID, data)
}

// StoreCredentials seals IMAP credentials for the user
func (b *Backends) StoreCredentials(userID string, creds models.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return b.secrets.Put(userID, data)
}

// Forget drops the cached backend and the stored secret
func (b *Backends) Forget(userID string) {
	b.mu.Lock()
	delete(b.clients, userID)
	b.mu.Unlock()
	if err := b.secrets.Delete(userID); err != nil {
		utils.Log.Warn("Failed to delete secret for %s: %v", userID, err)
	}
}

// imapBackend has no message store or calendar to read from
type imapBackend struct {
	*mailer.Mailer
}

func (imapBackend) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return nil, fmt.Errorf("loading messages: %w", errors.ErrUnsupported)
}

func (imapBackend) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	return nil, fmt.Errorf("calendar: %w", errors.ErrUnsupported)
}
