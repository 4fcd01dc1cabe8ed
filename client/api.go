package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"roster-api/models"
	"roster-api/types"
)

// ErrNotFound reports a mutation against an unknown event id.
var ErrNotFound = errors.New("event not found")

// APIError is a typed error returned by the server's response envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (%d): %s", e.Code, e.Status, e.Message)
}

// Is lets errors.Is match NOT_FOUND responses against ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Code == types.ErrorCodeNotFound
}

// API is a typed client for the roster mutation endpoints. It is safe for
// concurrent use once the token is set.
type API struct {
	BaseURL string
	HTTP    *http.Client
	token   string
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken installs the bearer token used on every subsequent request.
func (a *API) SetToken(token string) { a.token = token }

func (a *API) Token() string { return a.token }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *types.APIError `json:"error"`
}

func (a *API) call(method, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, a.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (a *API) Register(username, password string) (*models.User, error) {
	var u models.User
	err := a.call(http.MethodPost, "/register", map[string]string{
		"username": username,
		"password": password,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login authenticates and installs the returned token on the client.
func (a *API) Login(username, password string) (*models.User, error) {
	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	err := a.call(http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	a.token = out.Token
	return &out.User, nil
}

func (a *API) CreateEvent(name, location, startTime string) (models.Event, error) {
	var ev models.Event
	err := a.call(http.MethodPost, "/events", map[string]string{
		"name":      name,
		"location":  location,
		"startTime": startTime,
	}, &ev)
	return ev, err
}

func (a *API) JoinEvent(eventID string) (models.Event, error) {
	var ev models.Event
	err := a.call(http.MethodPost, "/events/"+eventID+"/join", nil, &ev)
	return ev, err
}

func (a *API) LeaveEvent(eventID string) (models.Event, error) {
	var ev models.Event
	err := a.call(http.MethodPost, "/events/"+eventID+"/leave", nil, &ev)
	return ev, err
}

func (a *API) ListEvents() ([]models.Event, error) {
	var evs []models.Event
	err := a.call(http.MethodGet, "/events", nil, &evs)
	return evs, err
}
