//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"calculator-api/internal/app"
	"calculator-api/internal/config"
	"calculator-api/internal/database"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, url, database.Options{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func testConfig(backend string) *config.Config {
	return &config.Config{
		ServerPort:        "8080",
		RequestTimeout:    10 * time.Second,
		DatabaseURL:       os.Getenv("TEST_DATABASE_URL"),
		JWTSecret:         "integration-secret",
		JWTAccessTTL:      15 * time.Minute,
		JWTRefreshTTL:     24 * time.Hour,
		BcryptCost:        4,
		RevocationBackend: backend,
		CORSOrigins:       []string{"*"},
	}
}

func newServer(t *testing.T, db *database.DB, backend string) (*httptest.Server, *app.Components) {
	t.Helper()

	components, err := app.Build(testConfig(backend), db)
	require.NoError(t, err)

	server := httptest.NewServer(components.Handler)
	t.Cleanup(server.Close)
	return server, components
}

func uniqueName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

func doJSON(t *testing.T, method string, url string, token string, body any) (*http.Response, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader([]byte{})
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func register(t *testing.T, baseURL string, username string, password string) {
	t.Helper()

	resp, env := doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/register", "", map[string]string{
		"username":         username,
		"email":            username + "@x.com",
		"first_name":       "Test",
		"last_name":        "User",
		"password":         password,
		"confirm_password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Error)
}

func login(t *testing.T, baseURL string, identifier string, password string) (*http.Response, envelope) {
	t.Helper()

	return doJSON(t, http.MethodPost, baseURL+"/api/v1/auth/login", "", map[string]string{
		"username_or_email": identifier,
		"password":          password,
	})
}

func loginTokens(t *testing.T, baseURL string, identifier string, password string) tokenPair {
	t.Helper()

	resp, env := login(t, baseURL, identifier, password)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens tokenPair
	require.NoError(t, json.Unmarshal(env.Data, &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens
}
