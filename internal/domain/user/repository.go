package user

import "context"

type Repository interface {
	Create(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, user *User) error
}
