package service

import (
	"context"
	"net/url"

	"github.com/sakif/nutrition-client/internal/httpclient"
	"github.com/sakif/nutrition-client/internal/model"
)

// MealFilter narrows a meal listing to one date and/or meal type.
type MealFilter struct {
	Date     *model.Date
	MealType model.MealType
	Skip     int
	Limit    int
}

func (f MealFilter) values() url.Values {
	q := url.Values{}
	if f.Date != nil {
		q.Set("meal_date", f.Date.String())
	}
	if f.MealType != "" {
		q.Set("meal_type", string(f.MealType))
	}
	setPage(q, f.Skip, f.Limit)
	return q
}

// Meals is the /meals/ resource. The API scopes every call to the
// authenticated user's meals.
type Meals struct {
	res resource[model.Meal, model.MealInput]
}

func NewMeals(client *httpclient.Client) *Meals {
	return &Meals{res: resource[model.Meal, model.MealInput]{client: client, name: "meals", path: "/meals/"}}
}

func (s *Meals) List(ctx context.Context, filter MealFilter) ([]model.Meal, error) {
	return s.res.list(ctx, filter.values())
}

func (s *Meals) Get(ctx context.Context, id int64) (model.Meal, error) {
	return s.res.get(ctx, id)
}

func (s *Meals) Create(ctx context.Context, in model.MealInput) (model.Meal, error) {
	return s.res.create(ctx, in)
}

func (s *Meals) Update(ctx context.Context, id int64, in model.MealInput) (model.Meal, error) {
	return s.res.update(ctx, id, in)
}

// Delete removes the meal together with its entries.
func (s *Meals) Delete(ctx context.Context, id int64) error {
	return s.res.delete(ctx, id)
}
