package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stonkbot/internal/game"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

const adminTokenHeader = "X-Admin-Token"

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the stonkbot API.
type APIError struct {
	Status  int
	Message string
	RetryAt string
}

func (e *APIError) Error() string {
	if e.RetryAt != "" {
		return fmt.Sprintf("api status %d: %s (retry at %s)", e.Status, e.Message, e.RetryAt)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type SeriesResponse struct {
	Instrument string             `json:"instrument"`
	Series     []game.SeriesPoint `json:"series"`
}

type LeaderboardResponse struct {
	Rows   []game.WealthRow   `json:"rows"`
	Series []game.SeriesPoint `json:"series"`
}

func accountPath(userID, action string) string {
	p := "/v1/accounts/" + url.PathEscape(userID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) Account(ctx context.Context, userID string) (game.Account, error) {
	var out game.Account
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(userID, ""), nil, &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, userID string, amount int64) (game.Account, error) {
	var out game.Account
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(userID, "deposit"), map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, userID string, amount int64) (game.Account, error) {
	var out game.Account
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(userID, "withdraw"), map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) Interest(ctx context.Context, userID string) (game.InterestResult, error) {
	var out game.InterestResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(userID, "interest"), nil, &out)
	return out, err
}

func (c *Client) Work(ctx context.Context, userID string) (game.WorkResult, error) {
	var out game.WorkResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(userID, "work"), nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, userID string) ([]game.Holding, error) {
	var out struct {
		Holdings []game.Holding `json:"holdings"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(userID, "portfolio"), nil, &out)
	return out.Holdings, err
}

func (c *Client) Trade(ctx context.Context, userID, side, instrument string, qty int64) (game.TradeResult, error) {
	var out game.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(userID, side), map[string]any{
		"instrument": instrument,
		"quantity":   qty,
	}, &out)
	return out, err
}

func (c *Client) Market(ctx context.Context) ([]game.Instrument, error) {
	var out struct {
		Instruments []game.Instrument `json:"instruments"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", nil, &out)
	return out.Instruments, err
}

func (c *Client) History(ctx context.Context, instrument string) (SeriesResponse, error) {
	var out SeriesResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(instrument)+"/history", nil, &out)
	return out, err
}

// Evolve runs one market step. It needs the server's admin token.
func (c *Client) Evolve(ctx context.Context, adminToken string) ([]game.Instrument, error) {
	var out struct {
		Instruments []game.Instrument `json:"instruments"`
	}
	hdr := http.Header{}
	hdr.Set(adminTokenHeader, strings.TrimSpace(adminToken))
	err := c.request(ctx, http.MethodPost, "/v1/market/evolve", nil, &out, hdr)
	return out.Instruments, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) (LeaderboardResponse, error) {
	var out LeaderboardResponse
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	return c.request(ctx, method, path, in, out, nil)
}

func (c *Client) request(ctx context.Context, method, path string, in any, out any, hdr http.Header) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error   string `json:"error"`
			RetryAt string `json:"retry_at"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.RetryAt = payload.RetryAt
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
