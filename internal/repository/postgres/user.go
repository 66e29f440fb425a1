package postgres

import (
	"context"
	"database/sql"

	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/postgres"
)

type userRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewUserRepository(db *postgres.DB, logger *logger.Logger) user.Repository {
	return &userRepository{db: db, logger: logger}
}

const userColumns = `
	id, email, name, phone,
	address_line1, address_line2, address_city, address_state,
	address_postal_code, address_country, gstin,
	stripe_customer_id, razorpay_customer_id,
	created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (` + userColumns + `
		) VALUES (
			:id, :email, :name, :phone,
			:address_line1, :address_line2, :address_city, :address_state,
			:address_postal_code, :address_country, :gstin,
			:stripe_customer_id, :razorpay_customer_id,
			:created_at, :updated_at
		)`

	bound, args, err := r.db.BindNamed(query, u)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create user").
			Mark(ierr.ErrDatabase)
	}
	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, bound, args...); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A user with this email already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create user").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var u user.User
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &u, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("user not found").
				WithHint("User not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get user").
			Mark(ierr.ErrDatabase)
	}
	return &u, nil
}

func (r *userRepository) Update(ctx context.Context, u *user.User) error {
	query := `
		UPDATE users SET
			email = :email,
			name = :name,
			phone = :phone,
			address_line1 = :address_line1,
			address_line2 = :address_line2,
			address_city = :address_city,
			address_state = :address_state,
			address_postal_code = :address_postal_code,
			address_country = :address_country,
			gstin = :gstin,
			stripe_customer_id = :stripe_customer_id,
			razorpay_customer_id = :razorpay_customer_id,
			updated_at = :updated_at
		WHERE id = :id`

	bound, args, err := r.db.BindNamed(query, u)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update user").
			Mark(ierr.ErrDatabase)
	}
	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, bound, args...)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update user").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("user not found").
			WithHint("User not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}
