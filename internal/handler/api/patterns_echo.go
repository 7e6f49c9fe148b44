package api

import (
	"context"
	"errors"

	"PivotPull/internal/domain/models"
	xhttp "PivotPull/pkg/http"
	xlogger "PivotPull/pkg/logger"
	"PivotPull/pkg/util"

	"github.com/labstack/echo/v4"
)

// PatternExtractor fetches normalized patterns for a symbol and a day range.
type PatternExtractor interface {
	ExtractDays(ctx context.Context, symbol, startDay, endDay string) ([]models.CupWithHandle, error)
}

// BacktestRunner replays a symbol against patterns.
type BacktestRunner interface {
	Run(ctx context.Context, symbol string, patterns []models.CupWithHandle) (*models.BacktestReport, error)
}

// PatternsEchoHandler serves pattern extraction and backtests over HTTP.
type PatternsEchoHandler struct {
	logger    *xlogger.Logger
	extractor PatternExtractor
	backtest  BacktestRunner
}

func NewPatternsEchoHandler(logger *xlogger.Logger, extractor PatternExtractor, backtest BacktestRunner) *PatternsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PatternsEchoHandler{logger: logger, extractor: extractor, backtest: backtest}
}

func (h *PatternsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/patterns", h.Patterns)
	g.POST("/backtest", h.Backtest)
}

func (h *PatternsEchoHandler) Patterns(c echo.Context) error {
	req := &models.PatternsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	patterns, err := h.extractor.ExtractDays(c.Request().Context(), req.Symbol, req.Start, req.End)
	if err != nil {
		h.logger.Error("patterns usecase error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.ListResponse(c, patterns, int64(len(patterns)))
}

func (h *PatternsEchoHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	symbol := util.NormalizeSymbol(req.Symbol)

	patterns, err := h.extractor.ExtractDays(ctx, symbol, req.Start, req.End)
	if err != nil {
		h.logger.Error("backtest extraction error", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}

	report, err := h.backtest.Run(ctx, symbol, patterns)
	if err != nil {
		h.logger.Error("backtest usecase error", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

// toAppError maps domain and upstream failures onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var status *xhttp.StatusError
	switch {
	case errors.Is(err, models.ErrInvalidRange):
		return xhttp.BadRequestError("start and end must be YYYY-MM-DD with end not before start").WithError(err)
	case errors.Is(err, models.ErrInstrumentNotFound):
		return xhttp.NotFoundError("instrument not found").WithError(err)
	case errors.Is(err, models.ErrInstrumentAmbiguous):
		return xhttp.NotFoundError("instrument is ambiguous").WithError(err)
	case errors.Is(err, models.ErrPriceNotFound):
		return xhttp.UnprocessableError("price series has no close for a pattern pivot").WithError(err)
	case errors.Is(err, models.ErrInvalidPatternRecord), errors.Is(err, models.ErrInvalidDateFormat):
		return xhttp.UnprocessableError("provider returned a malformed pattern").WithError(err)
	case errors.As(err, &status):
		return xhttp.BadGatewayError("provider request failed").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
