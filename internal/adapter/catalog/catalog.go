package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// HTTPCatalog resolves items against the external master-data service. The
// catalog is a plain synchronous lookup; any transport or server failure is
// reported as domain.ErrCatalogUnavailable.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPCatalog) ResolveItem(ctx context.Context, itemType domain.ItemType, itemID string) (bool, error) {
	url := fmt.Sprintf("%s/api/items/%s/%s", c.baseURL, itemType, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("catalog request: %v: %w", err, domain.ErrCatalogUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("catalog returned %d: %w", resp.StatusCode, domain.ErrCatalogUnavailable)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("catalog returned unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode catalog response: %v: %w", err, domain.ErrCatalogUnavailable)
	}
	return body.Exists, nil
}

// PermissiveCatalog accepts every item; used when no catalog service is
// configured.
type PermissiveCatalog struct{}

func (PermissiveCatalog) ResolveItem(ctx context.Context, itemType domain.ItemType, itemID string) (bool, error) {
	return true, nil
}

// StaticCatalog serves a fixed item set for single-process runs and tests.
type StaticCatalog struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{items: make(map[string]struct{})}
}

func (c *StaticCatalog) Add(itemType domain.ItemType, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[string(itemType)+"/"+itemID] = struct{}{}
}

func (c *StaticCatalog) ResolveItem(ctx context.Context, itemType domain.ItemType, itemID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[string(itemType)+"/"+itemID]
	return ok, nil
}
