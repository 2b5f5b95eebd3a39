package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omerta-games/omerta-service/internal/auth"
	"github.com/omerta-games/omerta-service/internal/models"
)

func CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return fmt.Errorf("failed to generate user id: %w", err)
		}
		user.ID = id
	}

	if !user.IsEphemeral {
		hash, err := auth.CreateHash(user.Password, auth.Params)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = hash
	}

	// without a database the user exists in memory only
	if DB == nil {
		return nil
	}

	q := `INSERT INTO users (id, email, password, username, is_ephemeral, is_admin)
	      VALUES ($1, $2, $3, $4, $5, $6)`

	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID, user.Email, user.Password, user.Username,
			user.IsEphemeral, user.IsAdmin,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, email, password, username, is_ephemeral, is_admin
	FROM users
	WHERE email=$1
	`
	err := DB.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.IsEphemeral, &u.IsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	q := `
	SELECT id, email, password, username, is_ephemeral, is_admin
	FROM users
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.Password, &u.Username,
		&u.IsEphemeral, &u.IsAdmin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserCredentials promotes an ephemeral user to a full account,
// hashing the new password before persisting.
func UpdateUserCredentials(ctx context.Context, user *models.User) error {
	hash, err := auth.CreateHash(user.Password, auth.Params)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = hash

	q := `UPDATE users SET email=$2, password=$3, username=$4, is_ephemeral=$5 WHERE id=$1`
	err = pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q,
			user.ID, user.Email, user.Password, user.Username, user.IsEphemeral,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// AuthenticateUser verifies credentials and returns the user on success.
func AuthenticateUser(ctx context.Context, email, password string) (*models.User, error) {
	u, err := GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	match, err := auth.ComparePasswordAndHash(password, u.Password)
	if err != nil {
		return nil, fmt.Errorf("password check failed: %w", err)
	}
	if !match {
		return nil, fmt.Errorf("invalid credentials")
	}
	u.Password = ""
	return u, nil
}
