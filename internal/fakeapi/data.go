package fakeapi

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/sakif/nutrition-client/internal/apperror"
	"github.com/sakif/nutrition-client/internal/model"
)

// Server-side paging defaults.
const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type page struct {
	skip, limit int
}

func paginate[T any](items []T, p page) []T {
	if p.skip >= len(items) {
		return []T{}
	}
	items = items[p.skip:]
	if p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}

type mealRow struct {
	id       int64
	owner    string
	date     model.Date
	mealType model.MealType
}

// nutritionData is the in-memory /api state. Foods are shared by all
// users; meals and their entries belong to one user.
type nutritionData struct {
	mu sync.Mutex

	nextFoodID, nextMealID, nextEntryID int64

	foods   map[int64]model.Food
	meals   map[int64]mealRow
	entries map[int64]model.FoodEntry // Food is hydrated on read
}

func newNutritionData() *nutritionData {
	return &nutritionData{
		foods:   make(map[int64]model.Food),
		meals:   make(map[int64]mealRow),
		entries: make(map[int64]model.FoodEntry),
	}
}

// =========================================================================
// FOODS
// =========================================================================

func validateFood(in model.FoodInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperror.ValidationFailed("name", "Food name is required")
	}
	nutrients := []struct {
		field string
		value float64
	}{
		{"calories_per_100g", in.CaloriesPer100g},
		{"protein_per_100g", in.ProteinPer100g},
		{"carbs_per_100g", in.CarbsPer100g},
		{"fat_per_100g", in.FatPer100g},
	}
	if in.FiberPer100g != nil {
		nutrients = append(nutrients, struct {
			field string
			value float64
		}{"fiber_per_100g", *in.FiberPer100g})
	}
	for _, n := range nutrients {
		if n.value < 0 || math.IsNaN(n.value) {
			return apperror.ValidationFailed(n.field, "Nutritional values must be positive")
		}
	}
	return nil
}

func foodFrom(id int64, in model.FoodInput) model.Food {
	f := model.Food{
		ID:              id,
		Name:            in.Name,
		CaloriesPer100g: in.CaloriesPer100g,
		ProteinPer100g:  in.ProteinPer100g,
		CarbsPer100g:    in.CarbsPer100g,
		FatPer100g:      in.FatPer100g,
	}
	if in.FiberPer100g != nil {
		f.FiberPer100g = *in.FiberPer100g
	}
	return f
}

func (d *nutritionData) listFoods(search string, p page) []model.Food {
	d.mu.Lock()
	defer d.mu.Unlock()

	search = strings.ToLower(search)
	out := make([]model.Food, 0, len(d.foods))
	for _, f := range d.foods {
		if search == "" || strings.Contains(strings.ToLower(f.Name), search) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, p)
}

func (d *nutritionData) getFood(id int64) (model.Food, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.foods[id]
	if !ok {
		return model.Food{}, notFound("Food not found")
	}
	return f, nil
}

func (d *nutritionData) createFood(in model.FoodInput) (model.Food, error) {
	if err := validateFood(in); err != nil {
		return model.Food{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.foodNamedLocked(in.Name, 0) {
		return model.Food{}, conflict("Food already exists")
	}
	d.nextFoodID++
	f := foodFrom(d.nextFoodID, in)
	d.foods[f.ID] = f
	return f, nil
}

func (d *nutritionData) updateFood(id int64, in model.FoodInput) (model.Food, error) {
	if err := validateFood(in); err != nil {
		return model.Food{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.foods[id]; !ok {
		return model.Food{}, notFound("Food not found")
	}
	if d.foodNamedLocked(in.Name, id) {
		return model.Food{}, conflict("Name already taken")
	}
	f := foodFrom(id, in)
	d.foods[id] = f
	return f, nil
}

func (d *nutritionData) deleteFood(id int64) (model.Food, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.foods[id]
	if !ok {
		return model.Food{}, notFound("Food not found")
	}
	for _, e := range d.entries {
		if e.FoodID == id {
			return model.Food{}, conflict("Cannot delete food - it's used in meals")
		}
	}
	delete(d.foods, id)
	return f, nil
}

func (d *nutritionData) foodNamedLocked(name string, except int64) bool {
	for _, f := range d.foods {
		if f.ID != except && f.Name == name {
			return true
		}
	}
	return false
}

// =========================================================================
// MEALS
// =========================================================================

func validateMeal(in model.MealInput) error {
	if in.Date.IsZero() {
		return apperror.ValidationFailed("date", "field required")
	}
	if _, err := model.ParseMealType(string(in.MealType)); err != nil {
		return apperror.ValidationFailed("meal_type", "value is not a valid enumeration member; permitted: 'breakfast', 'lunch', 'dinner', 'snack'")
	}
	return nil
}

type mealQuery struct {
	date     *model.Date
	mealType model.MealType
	page
}

func (d *nutritionData) listMeals(owner string, q mealQuery) []model.Meal {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows := make([]mealRow, 0)
	for _, m := range d.meals {
		if m.owner != owner {
			continue
		}
		if q.date != nil && !m.date.Equal(q.date.Time) {
			continue
		}
		if q.mealType != "" && m.mealType != q.mealType {
			continue
		}
		rows = append(rows, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].date.Equal(rows[j].date.Time) {
			return rows[i].date.After(rows[j].date.Time)
		}
		if rows[i].mealType != rows[j].mealType {
			return rows[i].mealType < rows[j].mealType
		}
		return rows[i].id < rows[j].id
	})

	rows = paginate(rows, q.page)
	out := make([]model.Meal, 0, len(rows))
	for _, m := range rows {
		out = append(out, d.mealLocked(m))
	}
	return out
}

func (d *nutritionData) getMeal(owner string, id int64) (model.Meal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.meals[id]
	if !ok || m.owner != owner {
		return model.Meal{}, notFound("Meal not found")
	}
	return d.mealLocked(m), nil
}

func (d *nutritionData) createMeal(owner string, in model.MealInput) (model.Meal, error) {
	if err := validateMeal(in); err != nil {
		return model.Meal{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.slotTakenLocked(owner, in, 0) {
		return model.Meal{}, conflict(fmt.Sprintf("You already have a %s meal on %s", in.MealType, in.Date))
	}
	d.nextMealID++
	m := mealRow{id: d.nextMealID, owner: owner, date: in.Date, mealType: in.MealType}
	d.meals[m.id] = m
	return d.mealLocked(m), nil
}

func (d *nutritionData) updateMeal(owner string, id int64, in model.MealInput) (model.Meal, error) {
	if err := validateMeal(in); err != nil {
		return model.Meal{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.meals[id]
	if !ok || m.owner != owner {
		return model.Meal{}, notFound("Meal not found")
	}
	if d.slotTakenLocked(owner, in, id) {
		return model.Meal{}, conflict(fmt.Sprintf("You already have a %s meal on %s", in.MealType, in.Date))
	}
	m.date, m.mealType = in.Date, in.MealType
	d.meals[id] = m
	return d.mealLocked(m), nil
}

// deleteMeal removes the meal and its entries.
func (d *nutritionData) deleteMeal(owner string, id int64) (model.Meal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.meals[id]
	if !ok || m.owner != owner {
		return model.Meal{}, notFound("Meal not found")
	}
	out := d.mealLocked(m)
	for eid, e := range d.entries {
		if e.MealID == id {
			delete(d.entries, eid)
		}
	}
	delete(d.meals, id)
	return out, nil
}

func (d *nutritionData) slotTakenLocked(owner string, in model.MealInput, except int64) bool {
	for _, m := range d.meals {
		if m.id != except && m.owner == owner && m.date.Equal(in.Date.Time) && m.mealType == in.MealType {
			return true
		}
	}
	return false
}

func (d *nutritionData) mealLocked(m mealRow) model.Meal {
	entries := make([]model.FoodEntry, 0)
	for _, e := range d.entries {
		if e.MealID == m.id {
			entries = append(entries, d.entryLocked(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return model.Meal{
		ID:          m.id,
		OwnerUserID: m.owner,
		Date:        m.date,
		MealType:    m.mealType,
		Entries:     entries,
	}
}

// =========================================================================
// FOOD ENTRIES
// =========================================================================

type entryQuery struct {
	mealID, foodID int64
	page
}

// scaled returns a per-100g value scaled to grams, rounded to 2 decimals.
func scaled(per100g, grams float64) float64 {
	return math.Round(per100g*grams/100*100) / 100
}

func withTotals(e model.FoodEntry, f model.Food) model.FoodEntry {
	e.TotalCalories = scaled(f.CaloriesPer100g, e.QuantityGrams)
	e.TotalProtein = scaled(f.ProteinPer100g, e.QuantityGrams)
	e.TotalCarbs = scaled(f.CarbsPer100g, e.QuantityGrams)
	e.TotalFat = scaled(f.FatPer100g, e.QuantityGrams)
	return e
}

func (d *nutritionData) listEntries(owner string, q entryQuery) []model.FoodEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.FoodEntry, 0)
	for _, e := range d.entries {
		m, ok := d.meals[e.MealID]
		if !ok || m.owner != owner {
			continue
		}
		if q.mealID > 0 && e.MealID != q.mealID {
			continue
		}
		if q.foodID > 0 && e.FoodID != q.foodID {
			continue
		}
		out = append(out, d.entryLocked(e))
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := d.meals[out[i].MealID], d.meals[out[j].MealID]
		if !mi.date.Equal(mj.date.Time) {
			return mi.date.After(mj.date.Time)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, q.page)
}

func (d *nutritionData) getEntry(owner string, id int64) (model.FoodEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.ownedEntryLocked(owner, id)
	if err != nil {
		return model.FoodEntry{}, err
	}
	return d.entryLocked(e), nil
}

func (d *nutritionData) createEntry(owner string, in model.FoodEntryInput) (model.FoodEntry, error) {
	if in.QuantityGrams <= 0 || math.IsNaN(in.QuantityGrams) {
		return model.FoodEntry{}, apperror.ValidationFailed("quantity_grams", "Quantity must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.meals[in.MealID]; !ok || m.owner != owner {
		return model.FoodEntry{}, notFound("Meal not found or not accessible")
	}
	f, ok := d.foods[in.FoodID]
	if !ok {
		return model.FoodEntry{}, notFound("Food not found")
	}

	d.nextEntryID++
	e := withTotals(model.FoodEntry{
		ID:            d.nextEntryID,
		MealID:        in.MealID,
		FoodID:        in.FoodID,
		QuantityGrams: in.QuantityGrams,
	}, f)
	d.entries[e.ID] = e
	return d.entryLocked(e), nil
}

func (d *nutritionData) updateEntry(owner string, id int64, in model.FoodEntryInput) (model.FoodEntry, error) {
	if in.QuantityGrams <= 0 || math.IsNaN(in.QuantityGrams) {
		return model.FoodEntry{}, apperror.ValidationFailed("quantity_grams", "Quantity must be positive")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.ownedEntryLocked(owner, id)
	if err != nil {
		return model.FoodEntry{}, err
	}
	if m, ok := d.meals[in.MealID]; !ok || m.owner != owner {
		return model.FoodEntry{}, notFound("Target meal not found or not accessible")
	}
	f, ok := d.foods[in.FoodID]
	if !ok {
		return model.FoodEntry{}, notFound("Food not found")
	}

	e.MealID, e.FoodID, e.QuantityGrams = in.MealID, in.FoodID, in.QuantityGrams
	e = withTotals(e, f)
	d.entries[id] = e
	return d.entryLocked(e), nil
}

func (d *nutritionData) deleteEntry(owner string, id int64) (model.FoodEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.ownedEntryLocked(owner, id)
	if err != nil {
		return model.FoodEntry{}, err
	}
	out := d.entryLocked(e)
	delete(d.entries, id)
	return out, nil
}

func (d *nutritionData) ownedEntryLocked(owner string, id int64) (model.FoodEntry, error) {
	e, ok := d.entries[id]
	if !ok {
		return model.FoodEntry{}, notFound("Food entry not found")
	}
	if m, ok := d.meals[e.MealID]; !ok || m.owner != owner {
		return model.FoodEntry{}, notFound("Food entry not found")
	}
	return e, nil
}

func (d *nutritionData) entryLocked(e model.FoodEntry) model.FoodEntry {
	e.Food = d.foods[e.FoodID]
	return e
}
