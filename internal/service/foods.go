package service

import (
	"context"
	"net/url"

	"github.com/sakif/nutrition-client/internal/httpclient"
	"github.com/sakif/nutrition-client/internal/model"
)

// FoodFilter narrows a food listing. Search matches names case-insensitively
// on the server and is sent exactly as given; "" leaves it out.
type FoodFilter struct {
	Search string
	Skip   int
	Limit  int
}

func (f FoodFilter) values() url.Values {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	setPage(q, f.Skip, f.Limit)
	return q
}

// Foods is the /foods/ resource.
type Foods struct {
	res resource[model.Food, model.FoodInput]
}

func NewFoods(client *httpclient.Client) *Foods {
	return &Foods{res: resource[model.Food, model.FoodInput]{client: client, name: "foods", path: "/foods/"}}
}

func (s *Foods) List(ctx context.Context, filter FoodFilter) ([]model.Food, error) {
	return s.res.list(ctx, filter.values())
}

// Get fails with apperror.ErrNotFound for an unknown id.
func (s *Foods) Get(ctx context.Context, id int64) (model.Food, error) {
	return s.res.get(ctx, id)
}

// Create returns the stored food with its server-assigned id. A nil
// FiberPer100g is left to the server default.
func (s *Foods) Create(ctx context.Context, in model.FoodInput) (model.Food, error) {
	return s.res.create(ctx, in)
}

func (s *Foods) Update(ctx context.Context, id int64, in model.FoodInput) (model.Food, error) {
	return s.res.update(ctx, id, in)
}

func (s *Foods) Delete(ctx context.Context, id int64) error {
	return s.res.delete(ctx, id)
}
