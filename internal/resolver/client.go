// Package resolver turns a human-readable name (ENS, SuiNS) into the
// stealth meta-address published for it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	ErrNameNotFound    = errors.New("name not found")
	ErrNoPaymentRecord = errors.New("no private-payment record for this name")
)

var hexBlob = regexp.MustCompile(`^0x[0-9a-fA-F]{130,}$`)

// LooksLikeMetaAddress reports whether raw is already an expanded
// meta-address and needs no lookup.
func LooksLikeMetaAddress(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "st:") {
		return len(raw) > len("st:")
	}
	return hexBlob.MatchString(raw)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *freecache.Cache
	ttl        int
	log        *zap.Logger
}

// NewClient builds a resolver client. cacheMB <= 0 disables caching.
func NewClient(baseURL string, cacheMB int, ttl time.Duration, log *zap.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		ttl: max(int(ttl.Seconds()), 1),
		log: log,
	}
	if cacheMB > 0 {
		c.cache = freecache.NewCache(cacheMB * 1024 * 1024)
	}
	return c
}

type resolveResponse struct {
	Name        string `json:"name"`
	MetaAddress string `json:"meta_address"`
	Code        string `json:"code,omitempty"`
}

// Resolve returns the meta-address for name. Only successful lookups are
// cached.
func (c *Client) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if LooksLikeMetaAddress(name) {
		return name, nil
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", ErrNameNotFound
	}

	key := []byte(name)
	if c.cache != nil {
		if v, err := c.cache.Get(key); err == nil {
			return string(v), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/resolve/"+url.PathEscape(name), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNameNotFound
	case http.StatusUnprocessableEntity:
		return "", ErrNoPaymentRecord
	default:
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("resolver returned %d: %s", resp.StatusCode, string(body))
	}

	var out resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode resolver response: %w", err)
	}
	if out.Code == "no_payment_record" {
		return "", ErrNoPaymentRecord
	}
	if out.MetaAddress == "" {
		return "", ErrNoPaymentRecord
	}

	if c.cache != nil {
		_ = c.cache.Set(key, []byte(out.MetaAddress), c.ttl)
	}
	return out.MetaAddress, nil
}
