package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"goose/internal/domain"
	"goose/internal/repo"
)

const apiKeyPrefix = "gsk_"

type KeyStore interface {
	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, actorID, id string) error
}

// IssueAPIKey creates a key for the actor. The plaintext secret is returned
// once and never stored.
func (e Engine) IssueAPIKey(ctx context.Context, name, actorID string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: actor is required", ErrValidation)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        e.newID(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.now(),
	}
	if err := e.Keys.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	e.Log.Info().Str("op", "issue_api_key").Str("key_id", key.ID).Str("actor_id", actorID).Msg("api key issued")
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Keys.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes one of the actor's own keys.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	if err := e.Keys.DeleteAPIKey(ctx, actorID, id); err != nil {
		return err
	}
	e.Log.Info().Str("op", "revoke_api_key").Str("key_id", id).Str("actor_id", actorID).Msg("api key revoked")
	return nil
}
