package db

import "context"

// schemaStatements mirror the MySQL layout of the brew log database so both
// backends store the same rows.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id       BIGSERIAL PRIMARY KEY,
		name     VARCHAR(100) NOT NULL,
		email    VARCHAR(100) NOT NULL UNIQUE,
		password VARCHAR(255) NOT NULL,
		role     VARCHAR(20)  NOT NULL DEFAULT 'ROLE_USER'
	)`,
	`CREATE TABLE IF NOT EXISTS beans (
		id            BIGSERIAL PRIMARY KEY,
		user_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name          VARCHAR(100) NOT NULL,
		from_location VARCHAR(100) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recipe (
		id              BIGSERIAL PRIMARY KEY,
		bean_id         BIGINT NOT NULL REFERENCES beans(id) ON DELETE CASCADE,
		date            DATE NOT NULL,
		weather         VARCHAR(50) NOT NULL,
		temperature     DOUBLE PRECISION,
		humidity        DOUBLE PRECISION,
		days_passed     DOUBLE PRECISION,
		gram            DOUBLE PRECISION NOT NULL,
		mesh            DOUBLE PRECISION NOT NULL,
		extraction_time DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_beans_name ON beans (name)`,
	`CREATE INDEX IF NOT EXISTS idx_recipe_bean_id ON recipe (bean_id)`,
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return dbError("create schema", err)
		}
	}
	return nil
}

// Reset deletes every recipe, bean and user.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE recipe, beans, users RESTART IDENTITY CASCADE`); err != nil {
		return dbError("reset tables", err)
	}
	return nil
}
