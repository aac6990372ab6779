package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"brewcast/internal/types"
)

const beanSelect = `SELECT b.id, b.user_id, b.name, b.from_location, u.name, COUNT(r.id)
	FROM beans b
	JOIN users u ON b.user_id = u.id
	LEFT JOIN recipe r ON r.bean_id = b.id`

const beanGroupOrder = ` GROUP BY b.id, b.user_id, b.name, b.from_location, u.name ORDER BY b.name, b.id`

func scanBeans(rows pgx.Rows) ([]types.Bean, error) {
	defer rows.Close()
	beans := []types.Bean{}
	for rows.Next() {
		var b types.Bean
		if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Origin, &b.UserName, &b.RecipeCount); err != nil {
			return nil, dbError("scan bean", err)
		}
		beans = append(beans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate beans", err)
	}
	return beans, nil
}

// ListBeans returns every bean with its owner and recipe count.
func (s *Store) ListBeans(ctx context.Context) ([]types.Bean, error) {
	rows, err := s.db.Query(ctx, beanSelect+beanGroupOrder)
	if err != nil {
		return nil, dbError("list beans", err)
	}
	return scanBeans(rows)
}

// ListUserBeans returns the beans owned by userID. An unknown user yields
// not_found_user.
func (s *Store) ListUserBeans(ctx context.Context, userID int64) ([]types.Bean, error) {
	rows, err := s.db.Query(ctx, beanSelect+` WHERE b.user_id = $1`+beanGroupOrder, userID)
	if err != nil {
		return nil, dbError("list user beans", err)
	}
	beans, err := scanBeans(rows)
	if err != nil {
		return nil, err
	}
	if len(beans) > 0 {
		return beans, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, dbError("check user", err)
	}
	if !exists {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, fmt.Sprintf("user %d not found", userID), nil)
	}
	return beans, nil
}

// CreateBean inserts a bean and sets its ID.
func (s *Store) CreateBean(ctx context.Context, b *types.Bean) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO beans (user_id, name, from_location) VALUES ($1, $2, $3) RETURNING id`,
		b.UserID, b.Name, b.Origin,
	).Scan(&b.ID)
	if err != nil {
		return dbError("create bean", err)
	}
	return nil
}

// CreateUser inserts a user and sets its ID. An existing email is reused.
func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (name, email, password, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING id`,
		u.Name, u.Email, u.PasswordHash, u.Role,
	).Scan(&u.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.db.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, u.Email).Scan(&u.ID); err != nil {
			return dbError("look up existing user", err)
		}
		return nil
	}
	if err != nil {
		return dbError("create user", err)
	}
	return nil
}

// Stats counts rows in each table and the beans that have recipes.
func (s *Store) Stats(ctx context.Context) (types.DatabaseStats, error) {
	var st types.DatabaseStats
	err := s.db.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM beans),
		(SELECT COUNT(*) FROM recipe),
		(SELECT COUNT(DISTINCT bean_id) FROM recipe)`,
	).Scan(&st.Users, &st.Beans, &st.Recipes, &st.BeansWithData)
	if err != nil {
		return types.DatabaseStats{}, dbError("read database stats", err)
	}
	return st, nil
}
