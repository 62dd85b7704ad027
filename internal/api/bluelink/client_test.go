package bluelink

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestToken_AuthorizationCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/user/oauth2/token", r.URL.Path)

		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("cid:secret"))
		assert.Equal(t, expected, r.Header.Get("Authorization"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "http://localhost/cb", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":86400}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)
	before := time.Now()

	result, err := client.RequestToken(context.Background(), TokenRequest{
		ClientID:     "cid",
		ClientSecret: "secret",
		GrantType:    GrantAuthorizationCode,
		Code:         "the-code",
		RedirectURI:  "http://localhost/cb",
	})
	require.NoError(t, err)

	assert.Equal(t, "at-1", result.AccessToken)
	assert.Equal(t, "rt-1", result.RefreshToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.WithinDuration(t, before.Add(24*time.Hour), result.AccessTokenExpiresAt, time.Minute)
	require.NotNil(t, result.RefreshTokenExpiresAt)
	assert.WithinDuration(t, before.Add(RefreshTokenDefaultLifetime), *result.RefreshTokenExpiresAt, time.Minute)
}

func TestRequestToken_ValidatesBeforeNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	cases := []struct {
		name string
		req  TokenRequest
	}{
		{"authorization_code without code", TokenRequest{GrantType: GrantAuthorizationCode}},
		{"refresh_token without token", TokenRequest{GrantType: GrantRefreshToken}},
		{"delete without access token", TokenRequest{GrantType: GrantDelete}},
		{"unsupported grant", TokenRequest{GrantType: "password"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.RequestToken(context.Background(), tc.req)
			require.Error(t, err)

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Zero(t, authErr.Status)
		})
	}
}

func TestRequestToken_RefreshTokenDefaultsToCallerValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 刷新响应不带 refresh_token
		w.Write([]byte(`{"access_token":"at-2","token_type":"Bearer"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	result, err := client.RequestToken(context.Background(), TokenRequest{
		ClientID:     "cid",
		ClientSecret: "secret",
		GrantType:    GrantRefreshToken,
		RefreshToken: "old-rt",
	})
	require.NoError(t, err)

	assert.Equal(t, "at-2", result.AccessToken)
	assert.Equal(t, "old-rt", result.RefreshToken)
	require.NotNil(t, result.RefreshTokenExpiresAt)
}

func TestRequestToken_VendorErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 部分错误响应状态码仍为 200
		w.Write([]byte(`{"errCode":"4002","errMsg":"invalid client"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	_, err := client.RequestToken(context.Background(), TokenRequest{
		ClientID:     "cid",
		ClientSecret: "bad",
		GrantType:    GrantRefreshToken,
		RefreshToken: "rt",
	})
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "4002", authErr.Code)
	assert.Equal(t, "invalid client", authErr.Message)
}

func TestGetCarList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/car/profile/carlist", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))

		w.Write([]byte(`{"cars":[{"carId":"CAR1","carNickname":"내 차","carType":"EV","carSellname":"IONIQ 5"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	cars, err := client.GetCarList(context.Background(), "at-1")
	require.NoError(t, err)
	require.Len(t, cars, 1)
	assert.Equal(t, "CAR1", cars[0].CarID)
	assert.Equal(t, "EV", cars[0].CarType)
}

func TestGetDrivingRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/car/status/CAR1/dte", r.URL.Path)
		assert.Equal(t, "CAR1", r.URL.Query().Get("carId"))

		w.Write([]byte(`{"value":320.5,"unit":1,"timestamp":"20260829120000"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	dte, err := client.GetDrivingRange(context.Background(), "at-1", "CAR1")
	require.NoError(t, err)
	assert.Equal(t, 320.5, dte.Value)
	assert.Equal(t, 1, dte.Unit)
}

func TestGetWarning_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errCode":"4011","errMsg":"token expired"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL)

	_, err := client.GetWarning(context.Background(), "stale", "CAR1", WarningEngineOil)
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "4011", authErr.Code)
}

func TestBuildAuthorizeURL(t *testing.T) {
	client := NewClient("https://prd.example.com", "https://dev.example.com")

	url := client.BuildAuthorizeURL("cid", "http://localhost/cb", "st&ate")
	assert.Equal(t,
		"https://prd.example.com/api/v1/user/oauth2/authorize?client_id=cid&redirect_uri=http%3A%2F%2Flocalhost%2Fcb&response_type=code&state=st%26ate",
		url)
}
