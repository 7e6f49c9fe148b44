package marketsmith

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"PivotPull/internal/domain/models"
	"PivotPull/internal/service/ratelimit"
	"PivotPull/pkg/cache"
	xhttp "PivotPull/pkg/http"
	applogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"
)

// Endpoints are the provider URLs used by one session.
type Endpoints struct {
	LoginURL             string
	HandleLoginURL       string
	UserInfoURL          string
	SearchInstrumentsURL string
	PatternsURL          string
}

// Credentials authenticate a session.
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// Option configures Client.
type Option func(*Client)

// Client is an authenticated MarketSmith session. Cookies from Login are
// kept in the client's jar and sent with every later call.
type Client struct {
	http      *xhttp.Client
	endpoints Endpoints
	creds     Credentials
	timeout   time.Duration
	log       *applogger.Logger

	limiter      *ratelimit.Limiter
	rateCapacity float64
	ratePerSec   float64

	cache    cache.Service
	cacheTTL time.Duration

	metrics interface {
		RecordLatency(op string, seconds float64)
		RecordError(kind string)
	}
}

// New creates a session client. Call Login before any other method.
func New(endpoints Endpoints, creds Credentials, opts ...Option) *Client {
	c := &Client{
		endpoints:    endpoints,
		creds:        creds,
		log:          applogger.Nop(),
		rateCapacity: 5,
		ratePerSec:   1,
		cacheTTL:     time.Hour,
		timeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(c.timeout), xhttp.WithCookieJar())
	}
	return c
}

// WithHTTPClient replaces the underlying HTTP client. It must keep cookies.
func WithHTTPClient(h *xhttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRateLimit throttles requests per host with a token bucket.
func WithRateLimit(l *ratelimit.Limiter, capacity, perSecond float64) Option {
	return func(c *Client) {
		c.limiter = l
		c.rateCapacity = capacity
		c.ratePerSec = perSecond
	}
}

// WithCache caches instrument lookups and pattern payloads.
func WithCache(s cache.Service, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithMetrics records request latency and failures.
func WithMetrics(m interface {
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}) Option {
	return func(c *Client) { c.metrics = m }
}

// Login runs the two-step login: fetch login info with the credentials,
// then hand it back with action=login to obtain the auth cookies.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("loginID", c.creds.Username)
	form.Set("password", c.creds.Password)
	form.Set("ApiKey", c.creds.APIKey)
	form.Set("include", "profile,data,")
	form.Set("includeUserInfo", "true")

	var info map[string]any
	err := c.do(ctx, "login", &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.endpoints.LoginURL,
		Headers: map[string]string{"Content-Type": xhttp.ContentTypeForm},
		Body:    form,
	}, &info)
	if err != nil {
		return fmt.Errorf("marketsmith login: %w", err)
	}
	if code, ok := info["errorCode"]; ok {
		if n, err := models.ToFloat(code); err == nil && n != 0 {
			return fmt.Errorf("marketsmith login: error code %v: %v", code, info["errorMessage"])
		}
	}
	info["action"] = "login"

	err = c.do(ctx, "handle_login", &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.endpoints.HandleLoginURL,
		Body:   info,
	}, nil)
	if err != nil {
		return fmt.Errorf("marketsmith handle login: %w", err)
	}

	c.log.Info("marketsmith session established", applogger.String("user", c.creds.Username))
	return nil
}

// GetUser returns the authenticated account.
func (c *Client) GetUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := c.do(ctx, "get_user", &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.endpoints.UserInfoURL,
	}, &u)
	if err != nil {
		return nil, fmt.Errorf("marketsmith get user: %w", err)
	}
	return &u, nil
}

type searchResponse struct {
	Content []instrumentDTO `json:"content"`
}

type instrumentDTO struct {
	MSID                int    `json:"mSID"`
	Type                int    `json:"type"`
	InstrumentID        int    `json:"instrumentID"`
	Symbol              string `json:"symbol"`
	Name                string `json:"name"`
	EarliestTradingDate string `json:"earliestTradingDate"`
	LatestTradingDate   string `json:"latestTradingDate"`
	HasComponents       bool   `json:"hasComponents"`
	HasOptions          bool   `json:"hasOptions"`
	IsActive            bool   `json:"isActive"`
}

func (d instrumentDTO) toModel() (*models.Instrument, error) {
	earliest, err := util.DecodeMSDate(d.EarliestTradingDate)
	if err != nil {
		return nil, fmt.Errorf("earliestTradingDate: %w", err)
	}
	latest, err := util.DecodeMSDate(d.LatestTradingDate)
	if err != nil {
		return nil, fmt.Errorf("latestTradingDate: %w", err)
	}
	return &models.Instrument{
		MSID:                d.MSID,
		Type:                d.Type,
		InstrumentID:        d.InstrumentID,
		Symbol:              d.Symbol,
		Name:                d.Name,
		EarliestTradingDate: earliest,
		LatestTradingDate:   latest,
		HasComponents:       d.HasComponents,
		HasOptions:          d.HasOptions,
		IsActive:            d.IsActive,
	}, nil
}

// GetInstrument searches symbol and returns the single exact match.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	return cache.GetOrLoad(ctx, c.cache, cache.Key("marketsmith:instrument", symbol), c.cacheTTL,
		func(ctx context.Context) (*models.Instrument, error) {
			return c.searchInstrument(ctx, symbol)
		})
}

func (c *Client) searchInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	body, err := json.Marshal(symbol)
	if err != nil {
		return nil, fmt.Errorf("marketsmith search %s: encode: %w", symbol, err)
	}

	var res searchResponse
	err = c.do(ctx, "search_instruments", &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.endpoints.SearchInstrumentsURL,
		Headers: map[string]string{"Content-Type": xhttp.ContentTypeJSON},
		Body:    body,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("marketsmith search %s: %w", symbol, err)
	}

	var matches []instrumentDTO
	for _, r := range res.Content {
		if r.Symbol == symbol {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 1:
	case 0:
		return nil, fmt.Errorf("%w: %s", models.ErrInstrumentNotFound, symbol)
	default:
		c.log.Error("only 1 exact match should be found",
			applogger.String("symbol", symbol), applogger.Int("matches", len(matches)))
		return nil, fmt.Errorf("%w: %s has %d exact matches", models.ErrInstrumentAmbiguous, symbol, len(matches))
	}

	inst, err := matches[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("marketsmith instrument %s: %w", symbol, err)
	}
	return inst, nil
}

type dateInfo struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Frequency int    `json:"frequency"`
	TickCount int    `json:"tickCount"`
}

type patternsRequest struct {
	UserID         int      `json:"userID"`
	Symbol         string   `json:"symbol"`
	InstrumentID   int      `json:"instrumentID"`
	InstrumentType int      `json:"instrumentType"`
	DateInfo       dateInfo `json:"dateInfo"`
}

// GetPatterns fetches every pattern of inst between the two epoch-millisecond bounds.
func (c *Client) GetPatterns(ctx context.Context, inst *models.Instrument, user *models.User, startMillis, endMillis int64) (models.RawPayload, error) {
	if inst == nil || user == nil {
		return nil, errors.New("marketsmith get patterns: instrument and user are required")
	}

	key := cache.Key("marketsmith:patterns", inst.Symbol, startMillis, endMillis)
	return cache.GetOrLoad(ctx, c.cache, key, c.cacheTTL, func(ctx context.Context) (models.RawPayload, error) {
		req := patternsRequest{
			UserID:         user.UserID,
			Symbol:         inst.Symbol,
			InstrumentID:   inst.InstrumentID,
			InstrumentType: inst.Type,
			DateInfo: dateInfo{
				StartDate: util.EncodeMSDate(startMillis, ""),
				EndDate:   util.EncodeMSDate(endMillis, ""),
				Frequency: 1,
				TickCount: 0,
			},
		}

		var payload models.RawPayload
		err := c.do(ctx, "get_patterns", &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    c.endpoints.PatternsURL,
			Body:   req,
		}, &payload)
		if err != nil {
			return nil, fmt.Errorf("marketsmith get patterns %s: %w", inst.Symbol, err)
		}
		return payload, nil
	})
}

func (c *Client) do(ctx context.Context, op string, opts *xhttp.RequestOptions, dest interface{}) error {
	if opts.URL == "" {
		return fmt.Errorf("%s: endpoint not configured", op)
	}
	if c.limiter != nil {
		host := opts.URL
		if u, err := url.Parse(opts.URL); err == nil {
			host = u.Host
		}
		if err := c.limiter.Wait(ctx, host, c.rateCapacity, c.ratePerSec); err != nil {
			return err
		}
	}

	start := time.Now()
	err := c.http.SendAndParse(ctx, opts, dest)
	if c.metrics != nil {
		c.metrics.RecordLatency("marketsmith."+op, time.Since(start).Seconds())
		if err != nil {
			c.metrics.RecordError("marketsmith." + op)
		}
	}
	if err != nil {
		c.log.Warn("marketsmith request failed",
			applogger.String("op", op), applogger.Duration("took", time.Since(start)), applogger.Error(err))
		return err
	}
	c.log.Debug("marketsmith request", applogger.String("op", op), applogger.Duration("took", time.Since(start)))
	return nil
}
