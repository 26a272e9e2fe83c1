package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/storyguild/internal/entity"
	"github.com/kazz187/storyguild/pkg/cerr"
	"github.com/kazz187/storyguild/pkg/storage"
)

const entitiesPrefix = "entities"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", entitiesPrefix, id)
}

func (r *YAMLRepository) write(ctx context.Context, e *entity.Entity) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal entity: %w", err))
	}
	if err := r.storage.Write(ctx, path(e.ID), data); err != nil {
		return cerr.WrapStorageWriteError("entity", err)
	}
	return nil
}

func (r *YAMLRepository) read(ctx context.Context, p string) (*entity.Entity, error) {
	data, err := r.storage.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError("entity", err)
	}
	var e entity.Entity
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal entity: %w", err))
	}
	return &e, nil
}

func (r *YAMLRepository) Create(ctx context.Context, e *entity.Entity) error {
	exists, err := r.storage.Exists(ctx, path(e.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("entity", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "entity already exists", nil)
	}
	return r.write(ctx, e)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*entity.Entity, error) {
	return r.read(ctx, path(id))
}

func (r *YAMLRepository) List(ctx context.Context, limit, offset int) ([]*entity.Entity, int, error) {
	paths, err := r.storage.List(ctx, entitiesPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("entities", err)
	}
	total := len(paths)
	sort.Strings(paths)

	if offset >= len(paths) {
		return nil, total, nil
	}
	paths = paths[offset:]
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	entities := make([]*entity.Entity, 0, len(paths))
	for _, p := range paths {
		e, err := r.read(ctx, p)
		if err != nil {
			continue
		}
		entities = append(entities, e)
	}
	return entities, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, e *entity.Entity) error {
	exists, err := r.storage.Exists(ctx, path(e.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("entity", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "entity not found", nil)
	}
	return r.write(ctx, e)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("entity", err)
	}
	return nil
}
