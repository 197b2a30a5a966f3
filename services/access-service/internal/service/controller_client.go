package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/access-service/internal/config"
)

// Authorization describes one client to let onto the network.
type Authorization struct {
	Username string
	IP       string
	MAC      string
	Duration time.Duration
	Comment  string
}

type controllerError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// ControllerClient drives the hotspot controller's REST API: it creates a
// time-limited hotspot user bound to the client's MAC and logs the client in.
type ControllerClient struct {
	baseURL  string
	username string
	password string
	server   string
	profile  string
	client   *http.Client
	metrics  *MetricsCollector
	log      logger.Logger
}

func NewControllerClient(cfg config.ControllerConfig, metrics *MetricsCollector, log logger.Logger) *ControllerClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &ControllerClient{
		baseURL:  strings.TrimRight(cfg.URL, "/") + "/rest",
		username: cfg.Username,
		password: cfg.Password,
		server:   cfg.Server,
		profile:  cfg.Profile,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		metrics: metrics,
		log:     log,
	}
}

// Authorize is safe to repeat for the same username: an existing user is
// updated in place and an already active login counts as success. It returns
// the controller's id for the hotspot user.
func (c *ControllerClient) Authorize(ctx context.Context, auth Authorization) (string, error) {
	user := map[string]string{
		"mac-address":  auth.MAC,
		"limit-uptime": FormatUptime(auth.Duration),
		"comment":      auth.Comment,
		"profile":      c.profile,
	}

	ref, err := c.findUser(ctx, auth.Username)
	if err != nil {
		return "", err
	}

	if ref != "" {
		if _, err := c.do(ctx, "update_user", http.MethodPatch, "/ip/hotspot/user/"+url.PathEscape(ref), user); err != nil {
			return "", err
		}
	} else {
		user["name"] = auth.Username
		user["password"] = ""
		user["server"] = c.server
		body, err := c.do(ctx, "create_user", http.MethodPut, "/ip/hotspot/user", user)
		if err != nil {
			return "", err
		}
		var created map[string]interface{}
		if err := json.Unmarshal(body, &created); err != nil {
			return "", fmt.Errorf("invalid controller response: %w", err)
		}
		ref, _ = created[".id"].(string)
	}

	_, err = c.do(ctx, "login", http.MethodPost, "/ip/hotspot/active/login", map[string]string{
		"user":        auth.Username,
		"password":    "",
		"mac-address": auth.MAC,
		"ip":          auth.IP,
	})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already") {
		return "", err
	}

	c.log.Info("Hotspot client authorized",
		logger.Field{Key: "username", Value: auth.Username},
		logger.Field{Key: "mac", Value: auth.MAC},
		logger.Field{Key: "ip", Value: auth.IP},
		logger.Field{Key: "controller_ref", Value: ref},
	)
	return ref, nil
}

func (c *ControllerClient) findUser(ctx context.Context, username string) (string, error) {
	body, err := c.do(ctx, "find_user", http.MethodGet, "/ip/hotspot/user?name="+url.QueryEscape(username), nil)
	if err != nil {
		return "", err
	}

	var users []map[string]interface{}
	if err := json.Unmarshal(body, &users); err != nil {
		return "", fmt.Errorf("invalid controller response: %w", err)
	}
	if len(users) == 0 {
		return "", nil
	}
	ref, _ := users[0][".id"].(string)
	return ref, nil
}

func (c *ControllerClient) do(ctx context.Context, operation, method, path string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.SetBasicAuth(c.username, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	c.metrics.ObserveController(operation, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrControllerUnreachable, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	if resp.StatusCode >= 300 {
		var ce controllerError
		_ = json.Unmarshal(body, &ce)
		detail := ce.Detail
		if detail == "" {
			detail = ce.Message
		}
		if detail == "" {
			detail = resp.Status
		}
		return nil, fmt.Errorf("controller %s failed: %s", operation, detail)
	}

	return body, nil
}

// FormatUptime renders d the way the controller expects limit-uptime, e.g.
// "2h", "1h30m" or "45s". Sub-second remainders are dropped.
func FormatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d <= 0 {
		return "0s"
	}

	var sb strings.Builder
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&sb, "%dh", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&sb, "%dm", m)
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 {
		fmt.Fprintf(&sb, "%ds", s)
	}
	return sb.String()
}
