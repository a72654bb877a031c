package fakeapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/nutrition-client/internal/auth"
	"github.com/sakif/nutrition-client/internal/model"
)

// nutritionHandler serves /api. Every route runs behind RequireAuth, so
// the caller's claims are always in the context.
type nutritionHandler struct {
	data   *nutritionData
	logger *slog.Logger
}

func (h *nutritionHandler) routes(r chi.Router) {
	r.Get("/foods/", h.listFoods)
	r.Post("/foods/", h.createFood)
	r.Get("/foods/{id}", h.getFood)
	r.Put("/foods/{id}", h.updateFood)
	r.Delete("/foods/{id}", h.deleteFood)

	r.Get("/meals/", h.listMeals)
	r.Post("/meals/", h.createMeal)
	r.Get("/meals/{id}", h.getMeal)
	r.Put("/meals/{id}", h.updateMeal)
	r.Delete("/meals/{id}", h.deleteMeal)

	r.Get("/food-entries/", h.listEntries)
	r.Post("/food-entries/", h.createEntry)
	r.Get("/food-entries/{id}", h.getEntry)
	r.Put("/food-entries/{id}", h.updateEntry)
	r.Delete("/food-entries/{id}", h.deleteEntry)
}

// =========================================================================
// REQUEST PARSING
// =========================================================================

func owner(r *http.Request) string {
	c, _ := auth.ClaimsFromContext(r.Context())
	if c == nil {
		return ""
	}
	return c.Subject
}

// pathID parses {id}; on failure it has already answered 422.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeInvalid(w, "path", "id", "value is not a valid integer")
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter bounded below by min.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeInvalid(w, "query", name, "value is not a valid integer")
		return 0, false
	}
	if v < min {
		writeInvalid(w, "query", name, fmt.Sprintf("ensure this value is greater than or equal to %d", min))
		return 0, false
	}
	return v, true
}

func queryPage(w http.ResponseWriter, r *http.Request) (page, bool) {
	skip, ok := queryInt(w, r, "skip", 0, 0)
	if !ok {
		return page{}, false
	}
	limit, ok := queryInt(w, r, "limit", defaultPageLimit, 1)
	if !ok {
		return page{}, false
	}
	if limit > maxPageLimit {
		writeInvalid(w, "query", "limit", fmt.Sprintf("ensure this value is less than or equal to %d", maxPageLimit))
		return page{}, false
	}
	return page{skip: skip, limit: limit}, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeInvalid(w, "body", "__root__", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// deleted is the acknowledgement body the API returns for a delete.
type deleted struct {
	Message string `json:"message"`
}

// =========================================================================
// FOODS
// =========================================================================

func (h *nutritionHandler) listFoods(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.data.listFoods(r.URL.Query().Get("search"), p))
}

func (h *nutritionHandler) getFood(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := h.data.getFood(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *nutritionHandler) createFood(w http.ResponseWriter, r *http.Request) {
	var in model.FoodInput
	if !decodeBody(w, r, &in) {
		return
	}
	f, err := h.data.createFood(in)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("food created", slog.Int64("id", f.ID), slog.String("name", f.Name))
	writeJSON(w, http.StatusCreated, f)
}

func (h *nutritionHandler) updateFood(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in model.FoodInput
	if !decodeBody(w, r, &in) {
		return
	}
	f, err := h.data.updateFood(id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *nutritionHandler) deleteFood(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := h.data.deleteFood(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted{Message: fmt.Sprintf("Food '%s' deleted successfully", f.Name)})
}

// =========================================================================
// MEALS
// =========================================================================

func (h *nutritionHandler) listMeals(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPage(w, r)
	if !ok {
		return
	}
	q := mealQuery{page: p}

	if raw := r.URL.Query().Get("meal_date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			writeInvalid(w, "query", "meal_date", "invalid date format")
			return
		}
		q.date = &d
	}
	if raw := r.URL.Query().Get("meal_type"); raw != "" {
		mt, err := model.ParseMealType(raw)
		if err != nil {
			writeInvalid(w, "query", "meal_type", "value is not a valid enumeration member")
			return
		}
		q.mealType = mt
	}

	writeJSON(w, http.StatusOK, h.data.listMeals(owner(r), q))
}

func (h *nutritionHandler) getMeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.data.getMeal(owner(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *nutritionHandler) createMeal(w http.ResponseWriter, r *http.Request) {
	var in model.MealInput
	if !decodeBody(w, r, &in) {
		return
	}
	m, err := h.data.createMeal(owner(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *nutritionHandler) updateMeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in model.MealInput
	if !decodeBody(w, r, &in) {
		return
	}
	m, err := h.data.updateMeal(owner(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *nutritionHandler) deleteMeal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.data.deleteMeal(owner(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted{Message: fmt.Sprintf("%s meal on %s deleted successfully", m.MealType, m.Date)})
}

// =========================================================================
// FOOD ENTRIES
// =========================================================================

func (h *nutritionHandler) listEntries(w http.ResponseWriter, r *http.Request) {
	p, ok := queryPage(w, r)
	if !ok {
		return
	}
	mealID, ok := queryInt(w, r, "meal_id", 0, 0)
	if !ok {
		return
	}
	foodID, ok := queryInt(w, r, "food_id", 0, 0)
	if !ok {
		return
	}
	q := entryQuery{mealID: int64(mealID), foodID: int64(foodID), page: p}
	writeJSON(w, http.StatusOK, h.data.listEntries(owner(r), q))
}

func (h *nutritionHandler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.data.getEntry(owner(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *nutritionHandler) createEntry(w http.ResponseWriter, r *http.Request) {
	var in model.FoodEntryInput
	if !decodeBody(w, r, &in) {
		return
	}
	e, err := h.data.createEntry(owner(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *nutritionHandler) updateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in model.FoodEntryInput
	if !decodeBody(w, r, &in) {
		return
	}
	e, err := h.data.updateEntry(owner(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *nutritionHandler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.data.deleteEntry(owner(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted{Message: fmt.Sprintf("Deleted %gg of %s from meal", e.QuantityGrams, e.Food.Name)})
}
