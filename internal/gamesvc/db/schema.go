package db

// games.creator_id deliberately has no foreign key to users: the user rows
// are replicas owned by another service and may disappear at any time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		id   BIGINT PRIMARY KEY,
		name VARCHAR(50) NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id           BIGINT PRIMARY KEY,
		email        TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login   TIMESTAMPTZ
	)`,
	`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_email_key`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id BIGINT NOT NULL REFERENCES roles(id),
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS games (
		id               BIGSERIAL PRIMARY KEY,
		name             TEXT NOT NULL,
		status           VARCHAR(20) NOT NULL,
		players          INTEGER NOT NULL DEFAULT 0,
		game_type        TEXT NOT NULL DEFAULT '',
		is_public        BOOLEAN NOT NULL DEFAULT false,
		allow_spectators BOOLEAN NOT NULL DEFAULT false,
		enable_chat      BOOLEAN NOT NULL DEFAULT false,
		record_stats     BOOLEAN NOT NULL DEFAULT false,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated     TIMESTAMPTZ NOT NULL DEFAULT now(),
		time_elapsed     BIGINT NOT NULL DEFAULT 0,
		creator_id       BIGINT,
		legacy_user_id   BIGINT,
		orphaned         BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS idx_games_creator ON games (creator_id) WHERE creator_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS game_participations (
		id                  BIGSERIAL PRIMARY KEY,
		user_id             BIGINT NOT NULL,
		game_id             BIGINT NOT NULL REFERENCES games(id),
		joined_at           TIMESTAMPTZ NOT NULL,
		left_at             TIMESTAMPTZ,
		is_active           BOOLEAN NOT NULL,
		time_played_minutes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS unique_active_participation
		ON game_participations (user_id, game_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_participations_game ON game_participations (game_id)`,
}
