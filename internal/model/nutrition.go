package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Food is a food item with nutrient values per 100 grams.
// All nutrient values are non-negative; the server enforces it.
type Food struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	CaloriesPer100g float64 `json:"calories_per_100g"`
	ProteinPer100g  float64 `json:"protein_per_100g"`
	CarbsPer100g    float64 `json:"carbs_per_100g"`
	FatPer100g      float64 `json:"fat_per_100g"`
	FiberPer100g    float64 `json:"fiber_per_100g"`
}

// FoodInput is the body of a food create or update. FiberPer100g is
// optional; when nil it is left out and the server applies its default.
type FoodInput struct {
	Name            string   `json:"name"`
	CaloriesPer100g float64  `json:"calories_per_100g"`
	ProteinPer100g  float64  `json:"protein_per_100g"`
	CarbsPer100g    float64  `json:"carbs_per_100g"`
	FatPer100g      float64  `json:"fat_per_100g"`
	FiberPer100g    *float64 `json:"fiber_per_100g,omitempty"`
}

// MealType is one of the four daily meal slots.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
	Snack     MealType = "snack"
)

// MealTypes lists the valid meal types in display order.
var MealTypes = []MealType{Breakfast, Lunch, Dinner, Snack}

// ParseMealType accepts a meal type case-insensitively.
func ParseMealType(s string) (MealType, error) {
	mt := MealType(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range MealTypes {
		if v == mt {
			return mt, nil
		}
	}
	return "", fmt.Errorf("invalid meal type %q (want breakfast, lunch, dinner or snack)", s)
}

// Date is an ISO calendar date (YYYY-MM-DD) without time or zone.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return Date{t}, nil
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Meal groups the food entries eaten in one slot of one day.
type Meal struct {
	ID          int64       `json:"id"`
	OwnerUserID string      `json:"user_id"`
	Date        Date        `json:"date"`
	MealType    MealType    `json:"meal_type"`
	Entries     []FoodEntry `json:"food_entries"`
}

// MealInput is the body of a meal create or update.
type MealInput struct {
	Date     Date     `json:"date"`
	MealType MealType `json:"meal_type"`
}

// FoodEntry is a quantity of one food within a meal. The totals are the
// food's per-100g values scaled by QuantityGrams/100, computed by the API.
type FoodEntry struct {
	ID            int64   `json:"id"`
	MealID        int64   `json:"meal_id"`
	FoodID        int64   `json:"food_id"`
	QuantityGrams float64 `json:"quantity_grams"`
	TotalCalories float64 `json:"total_calories"`
	TotalProtein  float64 `json:"total_protein"`
	TotalCarbs    float64 `json:"total_carbs"`
	TotalFat      float64 `json:"total_fat"`
	Food          Food    `json:"food"`
}

// FoodEntryInput is the body of a food entry create or update.
type FoodEntryInput struct {
	MealID        int64   `json:"meal_id"`
	FoodID        int64   `json:"food_id"`
	QuantityGrams float64 `json:"quantity_grams"`
}
