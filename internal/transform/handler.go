package transform

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricebreaks/internal/common"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
	cache  *ResultCache
	logger zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Engine *Engine
	Cache  *ResultCache
	Logger zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{engine: cfg.Engine, cache: cfg.Cache, logger: cfg.Logger}
}

// Run handles POST /api/v1/cart-transform/run.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing engine not configured", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.WriteError(w, common.BadRequest("unable to read body", err))
		return
	}
	var input Input
	if err := json.Unmarshal(body, &input); err != nil {
		common.WriteError(w, common.BadRequest("invalid payload", err))
		return
	}

	ctx := r.Context()
	cached, ok, err := h.cache.Get(ctx, body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("result cache lookup")
	}
	if ok {
		w.Header().Set("X-Cache", "HIT")
		common.JSON(w, http.StatusOK, cached)
		return
	}

	result := h.engine.Run(ctx, &input)
	if err := h.cache.Set(ctx, body, result); err != nil {
		h.logger.Warn().Err(err).Msg("result cache store")
	}
	if h.cache.Enabled() {
		w.Header().Set("X-Cache", "MISS")
	}
	common.JSON(w, http.StatusOK, result)
}
