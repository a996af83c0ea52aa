package engine

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"bourse/internal/types"
	"bourse/pkg/response"
)

// GinHandlers contains HTTP handlers for order submission and market data.
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// SubmitOrderRequest is the order submission payload. The owner comes from
// the authenticated token; actor_id is accepted only when it matches.
type SubmitOrderRequest struct {
	ActorID   string  `json:"actor_id"`
	ActorKind string  `json:"actor_kind"`
	Symbol    string  `json:"symbol" binding:"required"`
	Side      string  `json:"side" binding:"required"`
	Type      string  `json:"type" binding:"required"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price"`
	Quantity  float64 `json:"quantity" binding:"required"`
}

// SubmitOrderHandler handles POST requests submitting a new order. The
// response carries the order id and every trade the submission produced.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request format")
			return
		}

		actorID := c.GetString("actorID")
		if actorID == "" {
			actorID = req.ActorID
		}
		if req.ActorID != "" && req.ActorID != actorID {
			response.Forbidden(c, "Order owner does not match authenticated actor")
			return
		}

		kind := types.ActorKind(req.ActorKind)
		if kind == "" {
			kind = types.ActorHuman
		}
		order := &types.Order{
			Owner:     types.ActorRef{ActorID: actorID, Kind: kind},
			Symbol:    req.Symbol,
			Side:      types.Side(req.Side),
			Type:      types.OrderType(req.Type),
			Price:     req.Price,
			StopPrice: req.StopPrice,
			Quantity:  req.Quantity,
		}

		trades, err := h.engine.Submit(order)
		if err != nil {
			var validation *types.ValidationError
			switch {
			case errors.As(err, &validation):
				response.BadRequest(c, validation.Error())
			case errors.Is(err, types.ErrUnknownSymbol):
				response.BadRequest(c, "Unknown symbol")
			case errors.Is(err, types.ErrActorNotFound):
				response.NotFound(c, "Actor not found")
			default:
				response.InternalError(c, "Order submission failed")
			}
			return
		}

		if trades == nil {
			trades = []types.Trade{}
		}
		response.Success(c, gin.H{
			"order_id": order.OrderID,
			"trades":   trades,
		})
	}
}

// GetBookHandler handles GET requests for an instrument's top-of-book view.
// URL parameter: symbol
func (h *GinHandlers) GetBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		inst, ok := h.engine.instruments[symbol]
		if !ok {
			response.NotFound(c, "Unknown symbol")
			return
		}
		inst.Lock()
		view := types.InstrumentSnapshot{
			Symbol: inst.Symbol,
			Price:  inst.Price,
			Volume: inst.Volume,
			Bids:   inst.Book().Depth(types.SideBuy, depthLevels),
			Asks:   inst.Book().Depth(types.SideSell, depthLevels),
		}
		inst.Unlock()
		response.Success(c, view)
	}
}

// InstrumentView is the API shape of an instrument's persisted state.
type InstrumentView struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	Volume            float64 `json:"volume"`
	SharesOutstanding float64 `json:"shares_outstanding"`
	Revenue           float64 `json:"revenue"`
	Profit            float64 `json:"profit"`
	RndSpend          float64 `json:"rnd_spend"`
	BaseVolatility    float64 `json:"base_volatility"`
}

func (h *GinHandlers) instrumentView(symbol string) (InstrumentView, bool) {
	inst, ok := h.engine.instruments[symbol]
	if !ok {
		return InstrumentView{}, false
	}
	inst.Lock()
	defer inst.Unlock()
	return InstrumentView{
		Symbol:            inst.Symbol,
		Price:             inst.Price,
		Volume:            inst.Volume,
		SharesOutstanding: inst.SharesOutstanding,
		Revenue:           inst.Revenue,
		Profit:            inst.Profit,
		RndSpend:          inst.RndSpend,
		BaseVolatility:    inst.BaseVolatility,
	}, true
}

// ListInstrumentsHandler handles GET requests for every listed instrument.
func (h *GinHandlers) ListInstrumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		views := make([]InstrumentView, 0, len(h.engine.instruments))
		for _, symbol := range h.engine.Symbols() {
			if view, ok := h.instrumentView(symbol); ok {
				views = append(views, view)
			}
		}
		response.Success(c, views)
	}
}

// GetInstrumentHandler handles GET requests for a single instrument.
// URL parameter: symbol
func (h *GinHandlers) GetInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, ok := h.instrumentView(c.Param("symbol"))
		if !ok {
			response.NotFound(c, "Unknown symbol")
			return
		}
		response.Success(c, view)
	}
}

// GetTradesHandler handles GET requests for an instrument's recent fills.
// URL parameter: symbol; query parameter: limit (default 50)
func (h *GinHandlers) GetTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if _, ok := h.engine.instruments[symbol]; !ok {
			response.NotFound(c, "Unknown symbol")
			return
		}
		limit := 50
		if raw, ok := c.GetQuery("limit"); ok {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 500 {
				response.BadRequest(c, "Invalid limit")
				return
			}
			limit = parsed
		}
		trades, err := h.engine.db.RecentTrades(symbol, limit)
		response.Handle(c, trades, err)
	}
}
