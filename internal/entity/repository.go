package entity

import "context"

type Repository interface {
	Create(ctx context.Context, e *Entity) error
	Get(ctx context.Context, id string) (*Entity, error)
	List(ctx context.Context, limit, offset int) ([]*Entity, int, error)
	Update(ctx context.Context, e *Entity) error
	Delete(ctx context.Context, id string) error
}
