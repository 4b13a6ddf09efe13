package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTP client limits for the cloud session.
const (
	remoteRequestTimeout = 15 * time.Second
	maxResponseSize      = 1 << 20 // 1 MB
)

// Remote drives a cloud-connected humidifier through its vendor API.
//
// The session is established once at construction: login exchanges the
// account credentials for a bearer token, then device discovery resolves
// the configured device name to an id. ApplyState maps the boolean to
// the turn-on/turn-off endpoints.
type Remote struct {
	baseURL    string
	deviceName string
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	deviceID string
	isOn     bool
	closed   bool
}

// RemoteConfig contains the account and device identity for the session.
type RemoteConfig struct {
	BaseURL    string
	Username   string
	Password   string
	DeviceName string
}

// remoteDevice is the wire shape of one device in the account.
type remoteDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IsOn bool   `json:"is_on"`
}

// NewRemote logs in to the cloud API and resolves the configured device.
//
// Parameters:
//   - ctx: Context bounding login and discovery
//   - cfg: Account credentials, API base URL, and device name
//
// Returns:
//   - *Remote: Backend with an authenticated session
//   - error: ErrAuthFailed, ErrDeviceNotFound, or ErrUnreachable (wrapped)
func NewRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrNotInitialized)
	}

	r := &Remote{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		deviceName: cfg.DeviceName,
		httpClient: &http.Client{Timeout: remoteRequestTimeout},
	}

	if err := r.login(ctx, cfg.Username, cfg.Password); err != nil {
		return nil, err
	}
	if err := r.discover(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// login exchanges credentials for a session token.
func (r *Remote) login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("marshalling login request: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/login", body, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: empty token in login response", ErrAuthFailed)
	}

	r.mu.Lock()
	r.token = resp.Token
	r.mu.Unlock()
	return nil
}

// discover resolves the configured device name to its id and caches the
// reported state.
func (r *Remote) discover(ctx context.Context) error {
	var devices []remoteDevice
	if err := r.do(ctx, http.MethodGet, "/v1/devices", nil, &devices); err != nil {
		return err
	}

	for _, d := range devices {
		if d.Name == r.deviceName {
			r.mu.Lock()
			r.deviceID = d.ID
			r.isOn = d.IsOn
			r.mu.Unlock()
			return nil
		}
	}

	return fmt.Errorf("%w: %q not in account device list", ErrDeviceNotFound, r.deviceName)
}

// ApplyState calls the turn-on or turn-off endpoint for the device.
func (r *Remote) ApplyState(ctx context.Context, on bool) error {
	r.mu.Lock()
	deviceID := r.deviceID
	closed := r.closed
	r.mu.Unlock()

	if closed || deviceID == "" {
		return fmt.Errorf("%w: no active session", ErrNotInitialized)
	}

	action := "off"
	if on {
		action = "on"
	}

	path := fmt.Sprintf("/v1/devices/%s/%s", deviceID, action)
	if err := r.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return err
	}

	r.mu.Lock()
	r.isOn = on
	r.mu.Unlock()
	return nil
}

// Refresh re-syncs the cached state from the remote.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - error: nil on success, otherwise a sentinel error (wrapped)
func (r *Remote) Refresh(ctx context.Context) error {
	r.mu.Lock()
	deviceID := r.deviceID
	r.mu.Unlock()

	if deviceID == "" {
		return fmt.Errorf("%w: no active session", ErrNotInitialized)
	}

	var d remoteDevice
	if err := r.do(ctx, http.MethodGet, "/v1/devices/"+deviceID, nil, &d); err != nil {
		return err
	}

	r.mu.Lock()
	r.isOn = d.IsOn
	r.mu.Unlock()
	return nil
}

// IsOn returns the cached device state as of the last apply or refresh.
func (r *Remote) IsOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isOn
}

// Close invalidates the session. Safe to call more than once.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.token = ""
	return nil
}

// do executes one API request, mapping HTTP failures to sentinel errors.
func (r *Remote) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.mu.Lock()
	token := r.token
	r.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404 for %s", ErrDeviceNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
