package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// Doer is the interface for executing HTTP requests. Both httpclient.Client
// and httpclient.CircuitBreakerClient satisfy this.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Product is the catalog's view of a product, parsed strictly at the service
// boundary so missing fields fail fast instead of defaulting silently.
type Product struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	SKU      string    `json:"sku"`
	Price    int64     `json:"price"`
	Stock    int       `json:"stock"`
	ImageURL string    `json:"image_url"`
	Variants []Variant `json:"variants"`
}

// Variant is a purchasable variation of a product. A zero Price means the
// variant sells at the product's base price.
type Variant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Price int64  `json:"price"`
}

// FindVariant returns the variant with the given ID, or nil.
func (p *Product) FindVariant(variantID string) *Variant {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return &p.Variants[i]
		}
	}
	return nil
}

// envelope is the catalog service's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client is a typed HTTP client for the catalog service.
type Client struct {
	doer    Doer
	baseURL string
}

// NewClient creates a catalog client. baseURL is the catalog service root,
// e.g. "http://catalog:8001".
func NewClient(doer Doer, baseURL string) *Client {
	return &Client{
		doer:    doer,
		baseURL: baseURL,
	}
}

// GetProduct fetches a product by ID.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	reqURL := fmt.Sprintf("%s/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NotFound("product", productID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode catalog envelope: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("catalog error: %s", env.Message)
	}

	var product Product
	if err := json.Unmarshal(env.Data, &product); err != nil {
		return nil, fmt.Errorf("decode catalog product: %w", err)
	}
	if err := validateProduct(&product); err != nil {
		return nil, err
	}

	return &product, nil
}

// validateProduct rejects malformed catalog payloads instead of letting
// zero-valued fields flow into price snapshots.
func validateProduct(p *Product) error {
	if p.ID == "" {
		return fmt.Errorf("catalog product missing id: %w", apperrors.ErrInvalidInput)
	}
	if p.Name == "" {
		return fmt.Errorf("catalog product %s missing name: %w", p.ID, apperrors.ErrInvalidInput)
	}
	if p.Price < 0 {
		return fmt.Errorf("catalog product %s has negative price: %w", p.ID, apperrors.ErrInvalidInput)
	}
	return nil
}
