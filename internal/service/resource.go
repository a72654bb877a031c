// Package service contains the typed resource services: foods, meals and
// food entries. Each is a stateless, pass-through mapping from a CRUD
// operation to one request on the shared httpclient.Client:
//
//	CLI command → Foods/Meals/FoodEntries → httpclient.Client → /api
//
// Services compute nothing (nutrient totals come from the API), validate
// nothing beyond Go types, and never retry. Errors from the client are
// already *apperror.AppError values; they are wrapped with the operation
// and returned unchanged otherwise.
package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sakif/nutrition-client/internal/httpclient"
)

// Pagination bounds. The API caps limit at MaxLimit.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// setPage sets skip (only when positive) and limit (always, defaulted and
// clamped) on q. Every filter carries the same Skip/Limit pair; zero
// values are unset.
func setPage(q url.Values, skip, limit int) {
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	q.Set("limit", strconv.Itoa(limit))
}

// resource implements the five operations for one collection path.
// T is the entity, In the create/update body.
type resource[T, In any] struct {
	client *httpclient.Client
	name   string // for error context, e.g. "foods"
	path   string // collection path with trailing slash, e.g. "/foods/"
}

func (r resource[T, In]) list(ctx context.Context, q url.Values) ([]T, error) {
	var out []T
	if err := r.client.Get(ctx, r.path, q, &out); err != nil {
		return nil, fmt.Errorf("%s: list: %w", r.name, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (r resource[T, In]) get(ctx context.Context, id int64) (T, error) {
	var out T
	if err := r.client.Get(ctx, r.item(id), nil, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: get %d: %w", r.name, id, err)
	}
	return out, nil
}

func (r resource[T, In]) create(ctx context.Context, in In) (T, error) {
	var out T
	if err := r.client.Post(ctx, r.path, in, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: create: %w", r.name, err)
	}
	return out, nil
}

// update is a full replace (PUT), not a patch.
func (r resource[T, In]) update(ctx context.Context, id int64, in In) (T, error) {
	var out T
	if err := r.client.Put(ctx, r.item(id), in, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: update %d: %w", r.name, id, err)
	}
	return out, nil
}

func (r resource[T, In]) delete(ctx context.Context, id int64) error {
	if err := r.client.Delete(ctx, r.item(id)); err != nil {
		return fmt.Errorf("%s: delete %d: %w", r.name, id, err)
	}
	return nil
}

func (r resource[T, In]) item(id int64) string {
	return r.path + strconv.FormatInt(id, 10)
}

// Services bundles the three resource services over one client.
type Services struct {
	Foods       *Foods
	Meals       *Meals
	FoodEntries *FoodEntries
}

// New builds all services on client.
func New(client *httpclient.Client) *Services {
	return &Services{
		Foods:       NewFoods(client),
		Meals:       NewMeals(client),
		FoodEntries: NewFoodEntries(client),
	}
}
