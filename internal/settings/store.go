package settings

import (
	"context"
	"encoding/json"

	"analyticsbridge/internal/database"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Store loads and persists the settings document.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// DatabaseStore keeps settings in the sqlite config table. Until the first
// save it serves the seed settings it was built with.
type DatabaseStore struct {
	seed   Settings
	logger *zap.Logger
}

func NewDatabaseStore(seed Settings, logger *zap.Logger) *DatabaseStore {
	if seed.FirstPartyServer == "" {
		seed.FirstPartyServer = ServerInternal
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseStore{seed: seed, logger: logger}
}

func (d *DatabaseStore) Load(ctx context.Context) (Settings, error) {
	raw, err := database.GetConfig(ctx, ConfigName)
	if errors.Is(err, database.ErrConfigNotFound) {
		return d.seed, nil
	}
	if err != nil {
		return Settings{}, err
	}

	s := Default()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "decode %s", ConfigName)
	}
	return s, nil
}

func (d *DatabaseStore) Save(ctx context.Context, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrapf(err, "encode %s", ConfigName)
	}
	if err := database.SetConfig(ctx, ConfigName, raw); err != nil {
		return err
	}
	d.logger.Info("settings saved",
		zap.String("first_party_server", s.FirstPartyServer),
		zap.Int("request_path_mode", s.Visibility.RequestPathMode),
	)
	return nil
}

// License returns the stored license key for the CLI environment.
func (d *DatabaseStore) License(ctx context.Context) (string, error) {
	s, err := d.Load(ctx)
	if err != nil {
		return "", err
	}
	return s.License, nil
}

// Submit normalizes in against the stored settings, validates it and saves it.
// A *ValidationError leaves the store untouched.
func Submit(ctx context.Context, store Store, in Settings) (Settings, error) {
	current, err := store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	s := Normalize(in, current)
	if err := Validate(s); err != nil {
		return s, err
	}
	if err := store.Save(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}
