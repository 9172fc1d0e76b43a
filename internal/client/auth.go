package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wezm/node-simperium/internal/syncerr"
)

// HTTPAuthorizer implements Authorizer against a JSON POST endpoint,
// grounded on bringyour-connect's api.go post() helper: marshal a JSON
// body, POST it, unmarshal the JSON response (§6 Auth interface).
type HTTPAuthorizer struct {
	Endpoint string
	AppID    string

	httpClient *http.Client
}

type authRequest struct {
	AppID    string `json:"app_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"userid"`
}

// Authorize posts {app_id, username, password} to Endpoint and decodes the
// {access_token, userid} response (§6 Auth interface: "authorize(user,
// password) -> {access_token, userid}").
func (a *HTTPAuthorizer) Authorize(ctx context.Context, user, password string) (Credentials, error) {
	body, err := json.Marshal(authRequest{AppID: a.AppID, Username: user, Password: password})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: encode auth request: %v", syncerr.ErrAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: build auth request: %v", syncerr.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client().Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", syncerr.ErrAuth, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: read auth response: %v", syncerr.ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("%w: auth rejected: %s", syncerr.ErrAuth, string(respBytes))
	}

	var decoded authResponse
	if err := json.Unmarshal(respBytes, &decoded); err != nil {
		return Credentials{}, fmt.Errorf("%w: decode auth response: %v", syncerr.ErrAuth, err)
	}
	return Credentials{AccessToken: decoded.AccessToken, UserID: decoded.UserID}, nil
}

func (a *HTTPAuthorizer) client() *http.Client {
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return a.httpClient
}
