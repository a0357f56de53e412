package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/storage"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP handler
type Options struct {
	JWTSecret          string
	RateLimitPerMinute int64
	Proofs             *storage.ProofStorage
	Checks             map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	deals   *service.DealService
	proofs  *storage.ProofStorage
	secret  []byte
	limiter *limiter.Limiter
	checks  map[string]Pinger
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deals *service.DealService, opts Options) *Handler {
	limit := opts.RateLimitPerMinute
	if limit <= 0 {
		limit = 60
	}

	return &Handler{
		deals:   deals,
		proofs:  opts.Proofs,
		secret:  []byte(opts.JWTSecret),
		limiter: limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: limit}),
		checks:  opts.Checks,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(h.authMiddleware(), h.rateLimitMiddleware())
	{
		v1.POST("/deals", h.createDeal)
		v1.GET("/deals", h.listDeals)
		v1.GET("/deals/:id", h.getDeal)
		v1.GET("/deals/:id/history", h.dealHistory)

		v1.POST("/deals/:id/join", h.join)
		v1.POST("/deals/:id/transferred", h.markTransferred)
		v1.POST("/deals/:id/proof", h.submitProof)
		v1.POST("/deals/:id/verify", h.adminVerify)
		v1.POST("/deals/:id/ship", h.markShipped)
		v1.POST("/deals/:id/confirm", h.confirmReceipt)

		v1.POST("/deals/:id/dispute", h.openDispute)
		v1.POST("/deals/:id/dispute/resolve", h.resolveDispute)
		v1.GET("/deals/:id/dispute", h.getDispute)

		v1.POST("/deals/:id/payout", h.submitPayout)
		v1.GET("/deals/:id/payout", h.getPayout)
		v1.POST("/deals/:id/payout/confirm", h.confirmPayout)

		v1.POST("/deals/:id/cancel", h.cancel)
		v1.POST("/deals/:id/cancel/request", h.requestCancel)
		v1.POST("/deals/:id/cancel/approve", h.approveCancel)
		v1.POST("/deals/:id/cancel/reject", h.rejectCancel)

		v1.POST("/deals/:id/rating", h.rateDeal)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type joinRequest struct {
	Role string `json:"role" binding:"required"`
}

type proofRequest struct {
	ProofRef string `json:"proof_ref" binding:"required"`
}

type verifyRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Note    string `json:"note"`
}

type ratingRequest struct {
	Score   int    `json:"score" binding:"required"`
	Comment string `json:"comment"`
}

func (h *Handler) createDeal(c *gin.Context) {
	var req service.CreateDealRequest
	if !bind(c, &req) {
		return
	}
	req.CreatorID = actorID(c)

	res, err := h.deals.CreateDeal(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) listDeals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	deals, err := h.deals.ListDeals(c.Request.Context(), actorID(c), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]*service.DealResult, 0, len(deals))
	for i := range deals {
		out = append(out, service.ResultOf(&deals[i]))
	}
	c.JSON(http.StatusOK, gin.H{"deals": out})
}

func (h *Handler) getDeal(c *gin.Context) {
	deal, err := h.deals.GetDeal(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deal":           deal,
		"buyer_total":    deal.BuyerTotal(),
		"seller_receive": deal.SellerReceive(),
	})
}

func (h *Handler) dealHistory(c *gin.Context) {
	entries, err := h.deals.DealHistory(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) join(c *gin.Context) {
	var req joinRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.Join(c.Request.Context(), c.Param("id"), actorID(c), req.Role))
}

func (h *Handler) markTransferred(c *gin.Context) {
	h.respond(c)(h.deals.MarkTransferred(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) adminVerify(c *gin.Context) {
	var req verifyRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.AdminVerify(c.Request.Context(), c.Param("id"), actorID(c), *req.Approve))
}

func (h *Handler) markShipped(c *gin.Context) {
	var req service.ShipmentDetails
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.MarkShipped(c.Request.Context(), c.Param("id"), actorID(c), req))
}

func (h *Handler) confirmReceipt(c *gin.Context) {
	h.respond(c)(h.deals.ConfirmReceipt(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) openDispute(c *gin.Context) {
	var req disputeRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.OpenDispute(c.Request.Context(), c.Param("id"), actorID(c), req.Reason))
}

func (h *Handler) resolveDispute(c *gin.Context) {
	var req resolveRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.AdminResolveDispute(c.Request.Context(), c.Param("id"), actorID(c), req.Outcome, req.Note))
}

func (h *Handler) getDispute(c *gin.Context) {
	dispute, err := h.deals.GetDispute(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *Handler) submitPayout(c *gin.Context) {
	var req service.PayoutRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.SubmitPayout(c.Request.Context(), c.Param("id"), actorID(c), req))
}

func (h *Handler) getPayout(c *gin.Context) {
	dest, err := h.deals.GetPayout(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if dest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payout destination not submitted yet", "kind": service.KindNotFound})
		return
	}
	c.JSON(http.StatusOK, dest)
}

func (h *Handler) confirmPayout(c *gin.Context) {
	h.respond(c)(h.deals.AdminConfirmPayout(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) cancel(c *gin.Context) {
	h.respond(c)(h.deals.Cancel(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) requestCancel(c *gin.Context) {
	h.respond(c)(h.deals.RequestCancel(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) approveCancel(c *gin.Context) {
	h.respond(c)(h.deals.ApproveCancel(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) rejectCancel(c *gin.Context) {
	h.respond(c)(h.deals.RejectCancel(c.Request.Context(), c.Param("id"), actorID(c)))
}

func (h *Handler) rateDeal(c *gin.Context) {
	var req ratingRequest
	if !bind(c, &req) {
		return
	}
	h.respond(c)(h.deals.RateDeal(c.Request.Context(), c.Param("id"), actorID(c), req.Score, req.Comment))
}

// bind decodes the JSON body, answering 400 on malformed input
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// respond writes a command outcome
func (h *Handler) respond(c *gin.Context) func(*service.DealResult, error) {
	return func(res *service.DealResult, err error) {
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// writeError maps a rejection onto an HTTP status. ALREADY_DONE is a
// success: the deal is returned as it stands with already_done set.
func (h *Handler) writeError(c *gin.Context, err error) {
	var ce *service.CommandError
	if !errors.As(err, &ce) {
		h.logger.Error("Unexpected handler error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": ce.Message, "kind": ce.Kind}
	if ce.Status != "" {
		body["status"] = ce.Status
	}

	switch ce.Kind {
	case service.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	case service.KindUnauthorized:
		c.JSON(http.StatusForbidden, body)
	case service.KindInvalidState:
		c.JSON(http.StatusConflict, body)
	case service.KindAlreadyDone:
		c.JSON(http.StatusOK, h.alreadyDone(c, ce))
	case service.KindValidation:
		c.JSON(http.StatusUnprocessableEntity, body)
	default:
		c.JSON(http.StatusServiceUnavailable, body)
	}
}

func (h *Handler) alreadyDone(c *gin.Context, ce *service.CommandError) interface{} {
	if id := c.Param("id"); id != "" {
		if deal, err := h.deals.GetDeal(c.Request.Context(), id, actorID(c)); err == nil {
			res := service.ResultOf(deal)
			res.AlreadyDone = true
			return res
		}
	}
	return gin.H{
		"deal_id":      c.Param("id"),
		"status":       ce.Status,
		"already_done": true,
		"message":      ce.Message,
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
