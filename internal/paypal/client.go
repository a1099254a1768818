package paypal

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
	"sync"
	"time"

	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/port"
	"github.com/rs/zerolog"
)

const (
	tokenPath   = "/v1/oauth2/token"
	paymentPath = "/v1/payments/payment"

	paymentIntent = "sale"
	paymentMethod = "paypal"

	// refreshed slightly before the advertised expiry
	tokenExpirySlack = 30 * time.Second
)

// Client talks to the PayPal REST API. It is safe for concurrent use and
// holds a reusable HTTP client, fully driven by the request context.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret string, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL is empty")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("client credentials are empty")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: 30 * time.Second,
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

type createPaymentBody struct {
	Intent       string            `json:"intent"`
	Payer        payerBody         `json:"payer"`
	Transactions []transactionBody `json:"transactions"`
	RedirectURLs redirectURLsBody  `json:"redirect_urls"`
}

type payerBody struct {
	PaymentMethod string `json:"payment_method"`
}

type transactionBody struct {
	Amount      amountBody `json:"amount"`
	Description string     `json:"description"`
}

type amountBody struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type redirectURLsBody struct {
	CancelURL string `json:"cancel_url"`
	ReturnURL string `json:"return_url"`
}

type executePaymentBody struct {
	PayerID string `json:"payer_id"`
}

type paymentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) CreatePayment(ctx context.Context, request domain.PaymentRequest) (domain.Payment, error) {
	var p domain.Payment

	body := createPaymentBody{
		Intent: paymentIntent,
		Payer:  payerBody{PaymentMethod: paymentMethod},
		Transactions: []transactionBody{{
			Amount: amountBody{
				Total:    request.Amount.Amount.StringFixed(2),
				Currency: request.Amount.Currency.String(),
			},
			Description: request.Description,
		}},
		RedirectURLs: redirectURLsBody{
			CancelURL: request.CancelURL,
			ReturnURL: request.ReturnURL,
		},
	}

	payment, err := c.postPayment(ctx, c.baseURL+paymentPath, body)
	if err != nil {
		return p, fmt.Errorf("c.postPayment: %w", err)
	}

	c.logger.Debug().Str("payment_id", payment.ID).Str("state", payment.State).Msg("payment created")

	return payment, nil
}

func (c *Client) ExecutePayment(ctx context.Context, paymentID, payerID string) (domain.Payment, error) {
	var p domain.Payment

	if paymentID == "" {
		return p, errors.New("paymentID is empty")
	}
	if payerID == "" {
		return p, errors.New("payerID is empty")
	}

	executeURL := fmt.Sprintf("%s%s/%s/execute", c.baseURL, paymentPath, url.PathEscape(paymentID))

	payment, err := c.postPayment(ctx, executeURL, executePaymentBody{PayerID: payerID})
	if err != nil {
		return p, fmt.Errorf("c.postPayment: %w", err)
	}

	c.logger.Debug().Str("payment_id", payment.ID).Str("state", payment.State).Msg("payment executed")

	return payment, nil
}

func (c *Client) postPayment(ctx context.Context, requestURL string, body any) (domain.Payment, error) {
	var p domain.Payment

	token, err := c.token(ctx)
	if err != nil {
		return p, fmt.Errorf("c.token: %w", err)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return p, fmt.Errorf("json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(encoded))
	if err != nil {
		return p, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return p, fmt.Errorf("httpClient.Do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return p, fmt.Errorf("io.ReadAll: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return p, apiError(resp.StatusCode, respBody)
	}

	var decoded paymentResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return p, fmt.Errorf("json.Unmarshal: %w", err)
	}

	p = domain.Payment{
		ID:    decoded.ID,
		State: decoded.State,
	}
	for _, link := range decoded.Links {
		p.Links = append(p.Links, domain.PaymentLink{Rel: link.Rel, Href: link.Href})
	}

	return p, nil
}

// token returns a cached OAuth access token, fetching a fresh one when the
// cached token is missing or about to expire.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpClient.Do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("io.ReadAll: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, respBody)
	}

	var decoded tokenResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("json.Unmarshal: %w", err)
	}

	if decoded.AccessToken == "" {
		return "", errors.New("empty access token in response")
	}

	c.accessToken = decoded.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(decoded.ExpiresIn)*time.Second - tokenExpirySlack)

	return c.accessToken, nil
}

func apiError(statusCode int, body []byte) error {
	var decoded errorResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Name != "" {
		return fmt.Errorf("paypal: %s: %s (status %d)", decoded.Name, decoded.Message, statusCode)
	}

	return fmt.Errorf("paypal: unexpected status %d", statusCode)
}

var _ port.PaymentGateway = (*Client)(nil)
