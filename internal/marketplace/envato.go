package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CodexShaper-Devs/license-sub000/internal/models"
)

const envatoSalePath = "/v3/market/author/sale"

// EnvatoVerifier looks purchase codes up with the Envato author sale API.
type EnvatoVerifier struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

func NewEnvatoVerifier(client *http.Client, baseURL, token string, timeout time.Duration, logger *slog.Logger) *EnvatoVerifier {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnvatoVerifier{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger.With("component", "envato_verifier"),
	}
}

func (v *EnvatoVerifier) Source() models.LicenseSource { return models.SourceEnvato }

type envatoSale struct {
	Buyer          string `json:"buyer"`
	SoldAt         string `json:"sold_at"`
	License        string `json:"license"`
	SupportedUntil string `json:"supported_until"`
	Item           struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"item"`
}

// VerifyPurchase requires an Envato purchase code, which is a UUID.
func (v *EnvatoVerifier) VerifyPurchase(ctx context.Context, code string) (*Purchase, error) {
	if _, err := uuid.Parse(code); err != nil {
		return nil, ErrInvalidCode
	}

	u := v.baseURL + envatoSalePath + "?code=" + url.QueryEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build envato request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.WarnContext(ctx, "envato request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPurchaseNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		v.logger.ErrorContext(ctx, "envato rejected credentials", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: credentials rejected", ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var sale envatoSale
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sale); err != nil {
		return nil, fmt.Errorf("%w: decode sale: %v", ErrUnavailable, err)
	}

	p := &Purchase{
		Source:         models.SourceEnvato,
		Code:           code,
		Buyer:          sale.Buyer,
		LicenseType:    sale.License,
		ItemID:         sale.Item.ID.String(),
		ItemName:       sale.Item.Name,
		SoldAt:         parseEnvatoTime(sale.SoldAt),
		SupportedUntil: parseEnvatoTime(sale.SupportedUntil),
		Verified:       true,
	}
	v.logger.InfoContext(ctx, "envato purchase verified",
		"item_id", p.ItemID,
		"license_type", p.LicenseType)
	return p, nil
}

// MatchesItem reports whether the purchase is for itemID. An empty itemID matches.
func MatchesItem(p *Purchase, itemID string) bool {
	if itemID == "" {
		return true
	}
	if p.ItemID == itemID {
		return true
	}
	a, errA := strconv.ParseInt(p.ItemID, 10, 64)
	b, errB := strconv.ParseInt(itemID, 10, 64)
	return errA == nil && errB == nil && a == b
}

func parseEnvatoTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
