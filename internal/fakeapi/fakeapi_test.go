package fakeapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nutrition-client/internal/model"
)

const testSecret = "fakeapi-test-secret-0123456789"

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

// call sends a JSON request and returns the status and raw body.
func call(t *testing.T, method, url, token string, body any, headers ...string) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func login(t *testing.T, base, email, password string) string {
	t.Helper()
	status, body := call(t, http.MethodPost, base+AuthPrefix+"/token?grant_type=password", "",
		map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status, string(body))

	var tok tokenJSON
	require.NoError(t, json.Unmarshal(body, &tok))
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)
	return tok.AccessToken
}

func TestAPI_RequiresBearer(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	status, body := call(t, http.MethodGet, ts.URL+"/api/foods/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.JSONEq(t, `{"detail":"Missing or invalid Authorization header"}`, string(body))

	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPasswordGrant(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	status, body := call(t, http.MethodPost, ts.URL+AuthPrefix+"/token?grant_type=password", "",
		map[string]string{"email": "a@x.com", "password": "wrong!"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "invalid_grant")
	assert.Contains(t, string(body), "Invalid login credentials")

	token := login(t, ts.URL, "A@X.com ", "pw1234")
	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/", token, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSignUp_RequireConfirmation(t *testing.T) {
	srv, ts := newTestServer(t, Config{RequireConfirmation: true})

	status, body := call(t, http.MethodPost, ts.URL+AuthPrefix+"/signup", "",
		map[string]string{"email": "new@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, status)

	var u userJSON
	require.NoError(t, json.Unmarshal(body, &u))
	assert.NotEmpty(t, u.ID)
	assert.NotNil(t, u.ConfirmationSentAt)
	assert.NotContains(t, string(body), "access_token")

	status, body = call(t, http.MethodPost, ts.URL+AuthPrefix+"/token?grant_type=password", "",
		map[string]string{"email": "new@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Email not confirmed")

	require.NoError(t, srv.ConfirmUser("new@x.com"))
	login(t, ts.URL, "new@x.com", "secret1")
}

func TestSignUp_Rejections(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("taken@x.com", "secret1", "")
	require.NoError(t, err)

	status, body := call(t, http.MethodPost, ts.URL+AuthPrefix+"/signup", "",
		map[string]string{"email": "taken@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(body), "User already registered")

	status, body = call(t, http.MethodPost, ts.URL+AuthPrefix+"/signup", "",
		map[string]string{"email": "new@x.com", "password": "123"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(body), "weak_password")
}

func TestAPIKey(t *testing.T) {
	srv, ts := newTestServer(t, Config{APIKey: "anon-key"})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)

	creds := map[string]string{"email": "a@x.com", "password": "pw1234"}
	status, _ := call(t, http.MethodPost, ts.URL+AuthPrefix+"/token?grant_type=password", "", creds)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, http.MethodPost, ts.URL+AuthPrefix+"/token?grant_type=password", "", creds, "apikey", "anon-key")
	assert.Equal(t, http.StatusOK, status)
}

func TestLogout_RevokesToken(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	token := login(t, ts.URL, "a@x.com", "pw1234")

	status, _ := call(t, http.MethodPost, ts.URL+AuthPrefix+"/logout", token, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = call(t, http.MethodGet, ts.URL+AuthPrefix+"/user", token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRevokeSessions_RejectsIssuedTokens(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	old := login(t, ts.URL, "a@x.com", "pw1234")

	srv.RevokeSessions("a@x.com")

	status, body := call(t, http.MethodGet, ts.URL+"/api/foods/", old, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.JSONEq(t, `{"detail":"Token has been revoked"}`, string(body))

	// Logging in again works.
	fresh := login(t, ts.URL, "a@x.com", "pw1234")
	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/", fresh, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestFoods_DuplicateNameConflicts(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	token := login(t, ts.URL, "a@x.com", "pw1234")

	egg := model.FoodInput{Name: "Egg", CaloriesPer100g: 155, ProteinPer100g: 13, CarbsPer100g: 1.1, FatPer100g: 11}
	status, body := call(t, http.MethodPost, ts.URL+"/api/foods/", token, egg)
	require.Equal(t, http.StatusCreated, status)

	var f model.Food
	require.NoError(t, json.Unmarshal(body, &f))
	assert.Equal(t, int64(1), f.ID)
	assert.Zero(t, f.FiberPer100g)

	status, body = call(t, http.MethodPost, ts.URL+"/api/foods/", token, egg)
	assert.Equal(t, http.StatusConflict, status)
	assert.JSONEq(t, `{"detail":"Food already exists"}`, string(body))
}

func TestFoods_NegativeNutrientRejected(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	token := login(t, ts.URL, "a@x.com", "pw1234")

	status, body := call(t, http.MethodPost, ts.URL+"/api/foods/", token,
		model.FoodInput{Name: "Bad", CaloriesPer100g: -1})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(body), "calories_per_100g")
}

func TestMeals_ScopedToOwner(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	for _, email := range []string{"a@x.com", "b@x.com"} {
		_, err := srv.CreateUser(email, "pw1234", "")
		require.NoError(t, err)
	}
	tokenA := login(t, ts.URL, "a@x.com", "pw1234")
	tokenB := login(t, ts.URL, "b@x.com", "pw1234")

	in := map[string]string{"date": "2024-03-01", "meal_type": "lunch"}
	status, body := call(t, http.MethodPost, ts.URL+"/api/meals/", tokenA, in)
	require.Equal(t, http.StatusCreated, status, string(body))

	var m model.Meal
	require.NoError(t, json.Unmarshal(body, &m))

	status, _ = call(t, http.MethodGet, ts.URL+"/api/meals/1", tokenB, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = call(t, http.MethodGet, ts.URL+"/api/meals/", tokenB, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	// Same slot for the same user conflicts; another user may take it.
	status, _ = call(t, http.MethodPost, ts.URL+"/api/meals/", tokenA, in)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = call(t, http.MethodPost, ts.URL+"/api/meals/", tokenB, in)
	assert.Equal(t, http.StatusCreated, status)
}

func TestEntries_TotalsComputedByServer(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	token := login(t, ts.URL, "a@x.com", "pw1234")

	food, err := srv.SeedFood(model.FoodInput{Name: "Rice", CaloriesPer100g: 130, ProteinPer100g: 2.7, CarbsPer100g: 28, FatPer100g: 0.3})
	require.NoError(t, err)

	status, body := call(t, http.MethodPost, ts.URL+"/api/meals/", token,
		map[string]string{"date": "2024-03-01", "meal_type": "dinner"})
	require.Equal(t, http.StatusCreated, status, string(body))
	var meal model.Meal
	require.NoError(t, json.Unmarshal(body, &meal))

	status, body = call(t, http.MethodPost, ts.URL+"/api/food-entries/", token,
		model.FoodEntryInput{MealID: meal.ID, FoodID: food.ID, QuantityGrams: 150})
	require.Equal(t, http.StatusCreated, status, string(body))

	var e model.FoodEntry
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, 195.0, e.TotalCalories)
	assert.Equal(t, 4.05, e.TotalProtein)
	assert.Equal(t, 42.0, e.TotalCarbs)
	assert.Equal(t, 0.45, e.TotalFat)
	assert.Equal(t, "Rice", e.Food.Name)

	// A food in use cannot be deleted.
	status, _ = call(t, http.MethodDelete, ts.URL+"/api/foods/1", token, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = call(t, http.MethodPost, ts.URL+"/api/food-entries/", token,
		model.FoodEntryInput{MealID: meal.ID, FoodID: food.ID, QuantityGrams: 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestListLimitBounds(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	_, err := srv.CreateUser("a@x.com", "pw1234", "")
	require.NoError(t, err)
	token := login(t, ts.URL, "a@x.com", "pw1234")

	status, _ := call(t, http.MethodGet, ts.URL+"/api/foods/?limit=1001", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/?limit=1000", token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, http.MethodGet, ts.URL+"/api/foods/?skip=-1", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}
