package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/errorcode"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
)

const (
	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 64 << 10
)

var ErrBaseURLRequired = errors.New("exchange api base url is required")

// Config locates the exchange-connect backend.
type Config struct {
	BaseURL   string
	APIKey    string
	OrgID     string
	ProjectID string
	Timeout   time.Duration
}

// Client talks to an exchange-connect backend over HTTP. It implements the
// exchange lister, balance, quote, withdrawal and popup collaborators.
type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrBaseURLRequired
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid exchange api base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:   base,
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("service", "exchange-api").Logger(),
	}, nil
}

type errorBody struct {
	Type            string   `json:"type"`
	ErrorCode       string   `json:"errorCode"`
	Message         string   `json:"message"`
	RequiredActions []string `json:"requiredActions"`
}

type withdrawalBody struct {
	QuoteID       string `json:"quoteId"`
	TwoFactorCode string `json:"twofa,omitempty"`
	SMSCode       string `json:"smsCode,omitempty"`
}

type oauthSessionBody struct {
	Exchange string `json:"exchange"`
	exchange.OAuthParams
}

type oauthSessionResponse struct {
	AuthorizeURL string `json:"authorizeUrl"`
}

func (c *Client) ListExchanges(ctx context.Context) ([]exchange.Exchange, error) {
	var out struct {
		Exchanges []exchange.Exchange `json:"exchanges"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/exchanges", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Exchanges, nil
}

func (c *Client) FetchBalances(ctx context.Context, walletID string) ([]exchange.Balance, error) {
	var out struct {
		Balances []exchange.Balance `json:"balances"`
	}
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/balances"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

func (c *Client) RequestQuote(ctx context.Context, walletID string, req exchange.QuoteRequest) (*exchange.Quote, error) {
	var q exchange.Quote
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/withdrawals/quotes"
	if err := c.do(ctx, http.MethodPost, path, nil, req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) ExecuteWithdrawal(ctx context.Context, walletID, idempotencyKey, quoteID string, input exchange.ChallengeInput) (*exchange.WithdrawalResult, error) {
	var res exchange.WithdrawalResult
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/withdrawals"
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	body := withdrawalBody{QuoteID: quoteID, TwoFactorCode: input.TwoFactorCode, SMSCode: input.SMSCode}
	if err := c.do(ctx, http.MethodPost, path, headers, body, &res); err != nil {
		return nil, err
	}
	if res.IdempotencyKey == "" {
		res.IdempotencyKey = idempotencyKey
	}
	return &res, nil
}

// Open registers an OAuth session with the backend. The backend hosts the
// authorization page and reports the outcome on the message channel, so
// onClosedByUser is never invoked. Closing deletes the session.
func (c *Client) Open(ctx context.Context, slug string, params exchange.OAuthParams, onClosedByUser func()) (func(), error) {
	var out oauthSessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/oauth/sessions", nil, oauthSessionBody{Exchange: slug, OAuthParams: params}, &out); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("exchange", slug).
		Str("wallet_id", params.WalletID).
		Str("authorize_url", out.AuthorizeURL).
		Msg("oauth session opened")

	path := "/v1/oauth/sessions/" + url.PathEscape(params.IdempotencyKey)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
		defer cancel()
		if err := c.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
			c.logger.Warn().Err(err).Str("idempotency_key", params.IdempotencyKey).Msg("failed to close oauth session")
		}
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.OrgID != "" {
		req.Header.Set("X-Org-Id", c.cfg.OrgID)
	}
	if c.cfg.ProjectID != "" {
		req.Header.Set("X-Project-Id", c.cfg.ProjectID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// decodeError turns a non-2xx response into an APIError. `type` and
// `errorCode` are both classified and the first recognized one wins. A body
// naming neither yields a status-only error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var body errorBody
	_ = json.Unmarshal(data, &body)

	message := body.Message
	if message == "" {
		message = strings.TrimSpace(http.StatusText(resp.StatusCode))
	}
	apiErr := errorcode.FirstKnown(message, body.Type, body.ErrorCode)
	if apiErr == nil {
		apiErr = errorcode.FromStatus(resp.StatusCode, message)
	}
	apiErr.Status = resp.StatusCode
	apiErr.RequiredActions = body.RequiredActions
	return apiErr
}
