// Package fivesim wraps the 5sim.net number-rental API. It is a pure
// request/response translation layer: no business logic, typed responses,
// normalized errors.
package fivesim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"otp-service/internal/errors"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With("component", "fivesim"),
	}
}

type countryInfo struct {
	TextEn string `json:"text_en"`
}

// Product describes one rentable service in a country.
type Product struct {
	Category string          `json:"Category"`
	Qty      int             `json:"Qty"`
	Price    decimal.Decimal `json:"Price"`
}

// OperatorPrice is one leaf of the nested price table.
type OperatorPrice struct {
	Cost  decimal.Decimal `json:"cost"`
	Count int             `json:"count"`
	Rate  float64         `json:"rate"`
}

// PriceTable is country → product → operator → price info.
type PriceTable map[string]map[string]map[string]OperatorPrice

// SMS is one received message on an activation. Providers append; the last
// entry is the most recent.
type SMS struct {
	CreatedAt time.Time `json:"created_at"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Code      string    `json:"code"`
}

// Activation is the provider's view of one rented number. Status values
// outside the four known ones pass through verbatim.
type Activation struct {
	ID        int64           `json:"id"`
	Phone     string          `json:"phone"`
	Operator  string          `json:"operator"`
	Product   string          `json:"product"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Expires   time.Time       `json:"expires"`
	Country   string          `json:"country"`
	CreatedAt time.Time       `json:"created_at"`
	SMS       []SMS           `json:"sms"`
}

// ProviderID is the activation id in the form the rest of the system
// stores and sends back on check/cancel/finish calls.
func (a *Activation) ProviderID() string {
	return strconv.FormatInt(a.ID, 10)
}

// Countries lists available countries as code → display name.
func (c *Client) Countries(ctx context.Context) (map[string]string, error) {
	var raw map[string]countryInfo
	if err := c.get(ctx, "/guest/countries", nil, false, &raw); err != nil {
		return nil, err
	}

	countries := make(map[string]string, len(raw))
	for code, info := range raw {
		if info.TextEn == "" {
			continue
		}
		countries[code] = info.TextEn
	}
	return countries, nil
}

// Products lists rentable services for a country and operator.
func (c *Client) Products(ctx context.Context, country, operator string) (map[string]Product, error) {
	if operator == "" {
		operator = "any"
	}
	var products map[string]Product
	path := fmt.Sprintf("/guest/products/%s/%s", url.PathEscape(country), url.PathEscape(operator))
	if err := c.get(ctx, path, nil, false, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// Prices returns the nested price table for a country and product.
func (c *Client) Prices(ctx context.Context, country, product string) (PriceTable, error) {
	query := url.Values{}
	query.Set("country", country)
	query.Set("product", product)

	var prices PriceTable
	if err := c.get(ctx, "/guest/prices", query, false, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// BuyActivation rents a number. The returned price is authoritative.
func (c *Client) BuyActivation(ctx context.Context, country, operator, product string) (*Activation, error) {
	path := fmt.Sprintf("/user/buy/activation/%s/%s/%s",
		url.PathEscape(country), url.PathEscape(operator), url.PathEscape(product))

	var activation Activation
	if err := c.get(ctx, path, nil, true, &activation); err != nil {
		return nil, err
	}
	if activation.ID == 0 || activation.Phone == "" || activation.Status == "" {
		c.logger.Error("Buy response missing required fields", "country", country, "product", product)
		return nil, errors.NewAppError(errors.ProviderInvalidResponse, "buy response missing required fields")
	}
	return &activation, nil
}

// CheckActivation fetches the current status and SMS list for an activation.
func (c *Client) CheckActivation(ctx context.Context, providerID string) (*Activation, error) {
	var activation Activation
	if err := c.get(ctx, "/user/check/"+url.PathEscape(providerID), nil, true, &activation); err != nil {
		return nil, err
	}
	if activation.Status == "" {
		return nil, errors.NewAppError(errors.ProviderInvalidResponse, "check response missing status")
	}
	return &activation, nil
}

// CancelActivation asks the provider to cancel. The caller must only act on
// a status that literally equals CANCELED.
func (c *Client) CancelActivation(ctx context.Context, providerID string) (*Activation, error) {
	var activation Activation
	if err := c.get(ctx, "/user/cancel/"+url.PathEscape(providerID), nil, true, &activation); err != nil {
		return nil, err
	}
	if activation.Status == "" {
		return nil, errors.NewAppError(errors.ProviderInvalidResponse, "cancel response missing status")
	}
	return &activation, nil
}

// FinishActivation marks the activation complete on the provider side.
func (c *Client) FinishActivation(ctx context.Context, providerID string) (*Activation, error) {
	var activation Activation
	if err := c.get(ctx, "/user/finish/"+url.PathEscape(providerID), nil, true, &activation); err != nil {
		return nil, err
	}
	if activation.Status == "" {
		return nil, errors.NewAppError(errors.ProviderInvalidResponse, "finish response missing status")
	}
	return &activation, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, authenticated bool, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.NewAppError(errors.ProviderUnavailable, "failed to build provider request").WithDetails(err.Error())
	}
	req.Header.Set("Accept", "application/json")
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Provider request failed", "path", path, "error", err)
		return errors.NewAppError(errors.ProviderUnavailable, "provider request failed").WithDetails(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewAppError(errors.ProviderUnavailable, "failed to read provider response").WithDetails(err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Provider returned non-2xx status",
			"path", path, "status", resp.StatusCode, "body", string(body))
		return errors.NewAppErrorf(errors.ProviderUnavailable,
			"provider returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("Provider response undecodable", "path", path, "error", err)
		return errors.NewAppError(errors.ProviderInvalidResponse, "provider response undecodable").WithDetails(err.Error())
	}

	return nil
}

// FallbackCountries is served when the provider's country listing is down,
// so the selection page still renders.
func FallbackCountries() map[string]string {
	return map[string]string{
		"usa":         "United States",
		"canada":      "Canada",
		"uk":          "United Kingdom",
		"germany":     "Germany",
		"france":      "France",
		"india":       "India",
		"australia":   "Australia",
		"brazil":      "Brazil",
		"japan":       "Japan",
		"china":       "China",
		"russia":      "Russia",
		"mexico":      "Mexico",
		"indonesia":   "Indonesia",
		"netherlands": "Netherlands",
		"spain":       "Spain",
	}
}
