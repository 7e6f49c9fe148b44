package fmp

import (
	"context"
	"fmt"
	"time"

	"PivotPull/internal/domain/models"
	xhttp "PivotPull/pkg/http"
	applogger "PivotPull/pkg/logger"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Client fetches index constituents from Financial Modeling Prep.
type Client struct {
	http   *xhttp.Client
	apiKey string
	log    *applogger.Logger
}

// New creates an FMP client.
func New(apiKey string, timeout time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.Nop()
	}
	return &Client{
		http:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		apiKey: apiKey,
		log:    l,
	}
}

// Constituents returns the members listed at endpoint.
func (c *Client) Constituents(ctx context.Context, endpoint string) ([]models.Constituent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fmp: api key is required")
	}

	var out []models.Constituent
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         endpoint,
		QueryParams: map[string][]string{"apikey": {c.apiKey}},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("fmp constituents: %w", err)
	}

	for i := range out {
		if err := validate.Struct(&out[i]); err != nil {
			return nil, fmt.Errorf("fmp constituent %d: %w", i, err)
		}
	}

	c.log.Info("fetched constituents", applogger.String("endpoint", endpoint), applogger.Int("count", len(out)))
	return out, nil
}
