package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func carrySettingKey(ownerID string) string { return "settings:carryover:" + ownerID }

// SettingsStore reads per-owner settings maintained by the account surface.
// This subsystem never writes them.
type SettingsStore interface {
	// CarryEnabled reports whether carry-over is enabled for the owner.
	// A missing setting means enabled; that is the documented default.
	CarryEnabled(ctx context.Context, ownerID string) (bool, error)
}

type settingsStore struct {
	client *redis.Client
}

// NewSettingsStore creates a Redis-backed SettingsStore.
func NewSettingsStore(client *redis.Client) SettingsStore {
	return &settingsStore{client: client}
}

func (s *settingsStore) CarryEnabled(ctx context.Context, ownerID string) (bool, error) {
	val, err := s.client.Get(ctx, carrySettingKey(ownerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("redis get carry setting for %s: %w", ownerID, err)
	}
	return val != "0" && val != "false", nil
}
