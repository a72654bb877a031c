package service

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sakif/nutrition-client/internal/httpclient"
	"github.com/sakif/nutrition-client/internal/model"
)

// FoodEntryFilter narrows an entry listing to one meal and/or food.
type FoodEntryFilter struct {
	MealID int64
	FoodID int64
	Skip   int
	Limit  int
}

func (f FoodEntryFilter) values() url.Values {
	q := url.Values{}
	if f.MealID > 0 {
		q.Set("meal_id", strconv.FormatInt(f.MealID, 10))
	}
	if f.FoodID > 0 {
		q.Set("food_id", strconv.FormatInt(f.FoodID, 10))
	}
	setPage(q, f.Skip, f.Limit)
	return q
}

// FoodEntries is the /food-entries/ resource. Totals on returned entries
// are computed by the API from the food and quantity.
type FoodEntries struct {
	res resource[model.FoodEntry, model.FoodEntryInput]
}

func NewFoodEntries(client *httpclient.Client) *FoodEntries {
	return &FoodEntries{res: resource[model.FoodEntry, model.FoodEntryInput]{
		client: client,
		name:   "food entries",
		path:   "/food-entries/",
	}}
}

func (s *FoodEntries) List(ctx context.Context, filter FoodEntryFilter) ([]model.FoodEntry, error) {
	return s.res.list(ctx, filter.values())
}

func (s *FoodEntries) Get(ctx context.Context, id int64) (model.FoodEntry, error) {
	return s.res.get(ctx, id)
}

func (s *FoodEntries) Create(ctx context.Context, in model.FoodEntryInput) (model.FoodEntry, error) {
	return s.res.create(ctx, in)
}

func (s *FoodEntries) Update(ctx context.Context, id int64, in model.FoodEntryInput) (model.FoodEntry, error) {
	return s.res.update(ctx, id, in)
}

func (s *FoodEntries) Delete(ctx context.Context, id int64) error {
	return s.res.delete(ctx, id)
}
