package database

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// PlanTier is a user's subscription tier, used to cap autoplay enqueues
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPremium PlanTier = "premium"
)

// AutoplayLimit returns the maximum number of tracks autoplay may
// enqueue for this tier
func (t PlanTier) AutoplayLimit() int {
	if t == PlanPremium {
		return 10
	}
	return 6
}

// PersistencePolicy is a guild's 24/7 configuration. Mutated only by
// explicit user configuration; the lifecycle core reads it.
type PersistencePolicy struct {
	Enabled        bool
	VoiceChannelID string
	TextChannelID  string
	AutoDisconnect bool
}

// DefaultVolume is used when a guild has no stored setting
const DefaultVolume = 100

// Store is the SQLite-backed settings store. Persistence policies are
// cached per guild; the cache is updated on every write.
type Store struct {
	db *sql.DB

	cacheMutex  sync.RWMutex
	policyCache map[string]PersistencePolicy
}

// NewStore opens (or creates) the database at the given path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return &Store{
		db:          db,
		policyCache: make(map[string]PersistencePolicy),
	}, nil
}

func initSchema(db *sql.DB) error {
	createGuildSettings := `
	CREATE TABLE IF NOT EXISTS guild_settings (
		guild_id TEXT PRIMARY KEY,
		persistence_enabled INTEGER NOT NULL DEFAULT 0,
		voice_channel_id TEXT NOT NULL DEFAULT '',
		text_channel_id TEXT NOT NULL DEFAULT '',
		auto_disconnect INTEGER NOT NULL DEFAULT 1,
		default_volume INTEGER NOT NULL DEFAULT 100
	);
	`

	createUserPlans := `
	CREATE TABLE IF NOT EXISTS user_plans (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL DEFAULT 'free'
	);
	`

	for _, stmt := range []string{createGuildSettings, createUserPlans} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// GetPersistencePolicy returns the guild's 24/7 configuration. A guild
// with no row gets the zero policy with auto-disconnect on.
func (s *Store) GetPersistencePolicy(guildID string) (PersistencePolicy, error) {
	s.cacheMutex.RLock()
	cached, ok := s.policyCache[guildID]
	s.cacheMutex.RUnlock()
	if ok {
		return cached, nil
	}

	var policy PersistencePolicy
	var enabled, autoDisconnect int
	err := s.db.QueryRow(`
		SELECT persistence_enabled, voice_channel_id, text_channel_id, auto_disconnect
		FROM guild_settings WHERE guild_id = ?`, guildID).
		Scan(&enabled, &policy.VoiceChannelID, &policy.TextChannelID, &autoDisconnect)
	if err == sql.ErrNoRows {
		policy = PersistencePolicy{AutoDisconnect: true}
	} else if err != nil {
		return PersistencePolicy{}, errors.Wrap(err, "failed to read persistence policy")
	} else {
		policy.Enabled = enabled != 0
		policy.AutoDisconnect = autoDisconnect != 0
	}

	s.cacheMutex.Lock()
	s.policyCache[guildID] = policy
	s.cacheMutex.Unlock()
	return policy, nil
}

// SetPersistencePolicy stores the guild's 24/7 configuration
func (s *Store) SetPersistencePolicy(guildID string, policy PersistencePolicy) error {
	_, err := s.db.Exec(`
		INSERT INTO guild_settings (guild_id, persistence_enabled, voice_channel_id, text_channel_id, auto_disconnect)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			persistence_enabled = excluded.persistence_enabled,
			voice_channel_id = excluded.voice_channel_id,
			text_channel_id = excluded.text_channel_id,
			auto_disconnect = excluded.auto_disconnect`,
		guildID, boolToInt(policy.Enabled), policy.VoiceChannelID, policy.TextChannelID, boolToInt(policy.AutoDisconnect))
	if err != nil {
		return errors.Wrap(err, "failed to store persistence policy")
	}

	s.cacheMutex.Lock()
	s.policyCache[guildID] = policy
	s.cacheMutex.Unlock()
	return nil
}

// PersistenceEnabled reports whether the guild has 24/7 mode on.
// Lookup failures read as "disabled", the caller falls back to the
// non-persistent path.
func (s *Store) PersistenceEnabled(guildID string) bool {
	policy, err := s.GetPersistencePolicy(guildID)
	if err != nil {
		return false
	}
	return policy.Enabled
}

// EnabledPersistenceGuilds lists every guild with 24/7 mode on
func (s *Store) EnabledPersistenceGuilds() ([]string, error) {
	rows, err := s.db.Query(`SELECT guild_id FROM guild_settings WHERE persistence_enabled = 1`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list persistent guilds")
	}
	defer rows.Close()

	var guilds []string
	for rows.Next() {
		var guildID string
		if err := rows.Scan(&guildID); err != nil {
			return nil, errors.Wrap(err, "failed to scan guild id")
		}
		guilds = append(guilds, guildID)
	}
	return guilds, rows.Err()
}

// GetDefaultVolume returns the guild's configured default volume
func (s *Store) GetDefaultVolume(guildID string) (int, error) {
	var volume int
	err := s.db.QueryRow(`SELECT default_volume FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&volume)
	if err == sql.ErrNoRows {
		return DefaultVolume, nil
	}
	if err != nil {
		return DefaultVolume, errors.Wrap(err, "failed to read default volume")
	}
	return volume, nil
}

// SetDefaultVolume stores the guild's default volume
func (s *Store) SetDefaultVolume(guildID string, volume int) error {
	_, err := s.db.Exec(`
		INSERT INTO guild_settings (guild_id, default_volume) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET default_volume = excluded.default_volume`,
		guildID, volume)
	if err != nil {
		return errors.Wrap(err, "failed to store default volume")
	}
	return nil
}

// GetPlanTier returns the user's plan tier, defaulting to free
func (s *Store) GetPlanTier(userID string) (PlanTier, error) {
	var tier string
	err := s.db.QueryRow(`SELECT tier FROM user_plans WHERE user_id = ?`, userID).Scan(&tier)
	if err == sql.ErrNoRows {
		return PlanFree, nil
	}
	if err != nil {
		return PlanFree, errors.Wrap(err, "failed to read plan tier")
	}
	if tier == string(PlanPremium) {
		return PlanPremium, nil
	}
	return PlanFree, nil
}

// SetPlanTier stores the user's plan tier
func (s *Store) SetPlanTier(userID string, tier PlanTier) error {
	_, err := s.db.Exec(`
		INSERT INTO user_plans (user_id, tier) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier`,
		userID, string(tier))
	if err != nil {
		return errors.Wrap(err, "failed to store plan tier")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
