package gateway

import (
	"context"
	"fmt"
	"net/http"
)

// ItemType categorizes a stored vault item.
type ItemType string

const (
	ItemAccount ItemType = "account"
	ItemCard    ItemType = "card"
	ItemID      ItemType = "id"
	ItemLicense ItemType = "license"
	ItemMemo    ItemType = "memo"
	ItemDevice  ItemType = "device"
	ItemOther   ItemType = "other"
)

// ItemSummary is the listing view of a stored item. The server only ever
// holds ciphertext; Masked is a server-rendered hint derived at creation.
type ItemSummary struct {
	ID        string   `json:"id"`
	Type      ItemType `json:"type"`
	Title     string   `json:"title"`
	Masked    string   `json:"masked"`
	UpdatedAt string   `json:"updatedAt"`
}

// ItemPage is one page of the item listing.
type ItemPage struct {
	Items    []ItemSummary `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	Total    int           `json:"total"`
}

// ItemDetail carries the encrypted payload of one item.
type ItemDetail struct {
	ID         string   `json:"id"`
	Type       ItemType `json:"type"`
	Title      string   `json:"title"`
	Ciphertext string   `json:"ciphertext"`
	Nonce      string   `json:"nonce"`
	Salt       string   `json:"salt"`
}

// CreateItemRequest uploads a new encrypted item.
type CreateItemRequest struct {
	Type       ItemType          `json:"type"`
	Title      string            `json:"title"`
	Ciphertext string            `json:"ciphertext"`
	Nonce      string            `json:"nonce"`
	Salt       string            `json:"salt"`
	Meta       map[string]string `json:"meta,omitempty"`
}

type createItemResponse struct {
	ID string `json:"id"`
}

// CreateItem stores a new encrypted item and returns its server identifier.
func (c *Client) CreateItem(ctx context.Context, req CreateItemRequest) (string, error) {
	var res createItemResponse
	if err := c.api.Do(ctx, http.MethodPost, "/vault", req, &res); err != nil {
		return "", fmt.Errorf("create vault item: %w", err)
	}
	return res.ID, nil
}

// ListItems fetches one page of item summaries.
func (c *Client) ListItems(ctx context.Context, page, pageSize int) (*ItemPage, error) {
	var res ItemPage
	path := fmt.Sprintf("/vault?page=%d&pageSize=%d", page, pageSize)
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, fmt.Errorf("list vault items: %w", err)
	}
	return &res, nil
}

// GetItem fetches one item's encrypted payload.
func (c *Client) GetItem(ctx context.Context, id string) (*ItemDetail, error) {
	var res ItemDetail
	if err := c.api.Do(ctx, http.MethodGet, "/vault/"+id, nil, &res); err != nil {
		return nil, fmt.Errorf("get vault item: %w", err)
	}
	return &res, nil
}

// RemoveItem deletes an item server-side.
func (c *Client) RemoveItem(ctx context.Context, id string) error {
	if err := c.api.Do(ctx, http.MethodDelete, "/vault/"+id, nil, nil); err != nil {
		return fmt.Errorf("remove vault item: %w", err)
	}
	return nil
}
