package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPanelClient_CreateUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/application/users", r.URL.Path)
		assert.Equal(t, "Bearer ptla_key", r.Header.Get("Authorization"))

		var req CreateUserRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice2gb", req.Username)
		assert.Equal(t, "en", req.Language)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"object":"user","attributes":{"id":17,"username":"alice2gb","email":"alice2gb@buyer.test"}}`))
	}))
	defer server.Close()

	c := NewPanelClient(silentLogger, server.URL+"/", "ptla_key", nil)
	user, err := c.CreateUser(context.Background(), &CreateUserRequest{
		Email: "alice2gb@buyer.test", Username: "alice2gb", FirstName: "alice2gb", LastName: "alice2gb",
		Language: "en", Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17), user.ID)
	assert.Equal(t, "alice2gb", user.Username)
}

func TestPanelClient_CreateUser_Duplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"ValidationException","status":"422",
			"detail":"The username has already been taken.","meta":{"source_field":"username","rule":"unique"}}]}`))
	}))
	defer server.Close()

	_, err := NewPanelClient(silentLogger, server.URL, "k", nil).CreateUser(context.Background(), &CreateUserRequest{Username: "alice2gb"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestPanelClient_CreateUser_OtherRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"ValidationException","detail":"The email must be valid.","meta":{"rule":"email"}}]}`))
	}))
	defer server.Close()

	_, err := NewPanelClient(silentLogger, server.URL, "k", nil).CreateUser(context.Background(), &CreateUserRequest{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateIdentity)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Rejected())
}

func TestPanelClient_CreateUser_GatewayTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte("<html><body><h1>504 Gateway Time-out</h1></body></html>"))
	}))
	defer server.Close()

	_, err := NewPanelClient(silentLogger, server.URL, "k", nil).CreateUser(context.Background(), &CreateUserRequest{Username: "alice2gb"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
	assert.False(t, apiErr.Structured)
	assert.False(t, apiErr.Rejected())
}

func TestAPIError_Rejected(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: http.StatusForbidden}).Rejected())
	assert.True(t, (&APIError{StatusCode: http.StatusNotFound}).Rejected())
	assert.True(t, (&APIError{StatusCode: http.StatusOK, Structured: true}).Rejected())
	assert.True(t, (&APIError{StatusCode: http.StatusInternalServerError, Structured: true}).Rejected())
	assert.False(t, (&APIError{StatusCode: http.StatusInternalServerError}).Rejected())
	assert.False(t, (&APIError{StatusCode: http.StatusBadGateway}).Rejected())
}

func TestPanelClient_CreateServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/application/servers", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "attempt-1", req["external_id"])
		limits := req["limits"].(map[string]any)
		assert.Equal(t, float64(2048), limits["memory"])
		assert.Equal(t, float64(60), limits["cpu"])
		deploy := req["deploy"].(map[string]any)
		assert.Equal(t, []any{float64(1)}, deploy["locations"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"object":"server","attributes":{"id":301,"identifier":"1a7ce997","external_id":"attempt-1",
			"limits":{"memory":2048,"swap":0,"disk":2048,"io":500,"cpu":60}}}`))
	}))
	defer server.Close()

	srv, err := NewPanelClient(silentLogger, server.URL, "k", nil).CreateServer(context.Background(), &CreateServerRequest{
		Name:       "alice2gb",
		User:       17,
		Egg:        15,
		ExternalID: "attempt-1",
		Limits:     models.ResourceLimits{Memory: 2048, Disk: 2048, IO: 500, CPU: 60},
		Deploy:     DeployRequest{Locations: []int{1}, PortRange: []string{}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(301), srv.ID)
	assert.Equal(t, 2048, srv.Limits.Memory)
}

func TestPanelClient_LookupsAndDeletes(t *testing.T) {
	var deleted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/application/users":
			assert.Equal(t, "alice2gb", r.URL.Query().Get("filter[username]"))
			_, _ = w.Write([]byte(`{"object":"list","data":[
				{"object":"user","attributes":{"id":16,"username":"alice2gbx"}},
				{"object":"user","attributes":{"id":17,"username":"alice2gb"}}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/application/servers/external/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"code":"NotFoundHttpException","status":"404","detail":"not found"}]}`))
		case r.Method == http.MethodDelete:
			deleted = append(deleted, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewPanelClient(silentLogger, server.URL, "k", nil)
	ctx := context.Background()

	user, err := c.FindUserByUsername(ctx, "alice2gb")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(17), user.ID)

	srv, err := c.GetServerByExternalID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, srv)

	require.NoError(t, c.DeleteServer(ctx, 301))
	require.NoError(t, c.DeleteUser(ctx, 17))
	assert.Equal(t, []string{"/api/application/servers/301/force", "/api/application/users/17"}, deleted)
}
