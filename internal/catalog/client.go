package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopcart/cart-service/internal/auth"
	"github.com/shopcart/cart-service/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUpstream marks every failed catalog call. It never leaves this package:
// the Resolver turns it into a fallback snapshot.
var ErrUpstream = errors.New("catalog upstream failure")

const maxBodySize = 1 << 20

// Client fetches products from the catalog service over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient builds a client for baseURL. A nil transport uses the default
// transport instrumented with OpenTelemetry.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Transport: transport},
	}
}

// GetProduct performs GET <base>/{productID}, forwarding the caller's bearer
// token. Transport errors, timeouts, non-2xx statuses and unreadable bodies
// all wrap ErrUpstream.
func (c *Client) GetProduct(ctx context.Context, productID int64) (domain.ProductSnapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := c.baseURL + "/" + strconv.FormatInt(productID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := auth.TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("%w: get product %d: %w", ErrUpstream, productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return domain.ProductSnapshot{}, fmt.Errorf("%w: get product %d: status %d", ErrUpstream, productID, resp.StatusCode)
	}

	var product domain.ProductSnapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&product); err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("%w: decode product %d: %w", ErrUpstream, productID, err)
	}
	if product.ID == 0 {
		product.ID = productID
	}

	return product, nil
}
