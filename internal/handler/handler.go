package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/attribution"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/dto"
	"github.com/marketmypractice/correlation-service/internal/service"
)

type Handler struct {
	ingestService   service.IngestServicer
	registryService service.RegistryServicer
	queryService    service.QueryServicer
	router          *gin.Engine
	log             *zap.Logger
}

func NewHandler(ingestService service.IngestServicer, registryService service.RegistryServicer,
	queryService service.QueryServicer, log *zap.Logger) *Handler {
	h := &Handler{
		ingestService:   ingestService,
		registryService: registryService,
		queryService:    queryService,
		router:          gin.Default(),
		log:             log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/ingest", h.ingestRecord)
	h.router.POST("/ingest/batch", h.ingestBatch)
	h.router.POST("/heartbeat", h.heartbeat)
	h.router.GET("/users/:id/journey", h.userJourney)
	h.router.GET("/users/:id/credit", h.userCredit)
	h.router.GET("/users/:id/similar", h.similarUsers)
	h.router.GET("/funnel", h.conversionFunnel)
}

// writeError maps domain errors onto HTTP statuses. Not-found is never
// an error here: query endpoints return empty results instead.
func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: validation.Error(),
		})
		return
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   "conflict",
			Message: conflict.Error(),
		})
		return
	}

	var unavailable *domain.StoreUnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "store_unavailable",
			Message: unavailable.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ingestRecord handles POST /ingest
func (h *Handler) ingestRecord(c *gin.Context) {
	var req dto.IngestRecordRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid ingest request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.ingestService.ProcessRecord(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to process record",
			zap.Error(err),
			zap.String("kind", req.Kind),
			zap.String("raw_session_id", req.RawSessionID))
		h.writeError(c, err)
		return
	}

	h.log.Info("Record processed",
		zap.String("kind", req.Kind),
		zap.String("user_id", resp.CanonicalUserID),
		zap.String("session_id", resp.CanonicalSessionID))

	c.JSON(http.StatusOK, resp)
}

// ingestBatch handles POST /ingest/batch
func (h *Handler) ingestBatch(c *gin.Context) {
	var req dto.IngestBatchRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid batch request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.ingestService.ProcessBatch(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to process batch",
			zap.Error(err),
			zap.Int("record_count", len(req.Records)))
		h.writeError(c, err)
		return
	}

	h.log.Info("Batch processed",
		zap.Int("accepted", resp.Accepted),
		zap.Int("rejected", resp.Rejected),
		zap.Int("total", len(req.Records)))

	c.JSON(http.StatusOK, resp)
}

// heartbeat handles POST /heartbeat
func (h *Handler) heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid heartbeat request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.registryService.Heartbeat(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to record heartbeat",
			zap.Error(err),
			zap.String("component_type", req.ComponentType),
			zap.String("component_id", req.ComponentID))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// userJourney handles GET /users/:id/journey
func (h *Handler) userJourney(c *gin.Context) {
	userID := c.Param("id")

	resp, err := h.queryService.UserJourney(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to get journey",
			zap.Error(err),
			zap.String("user_id", userID))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// userCredit handles GET /users/:id/credit
func (h *Handler) userCredit(c *gin.Context) {
	userID := c.Param("id")
	model := c.Query("model")

	credits, err := h.queryService.UserCredit(c.Request.Context(), userID, model)
	if err != nil {
		h.log.Error("Failed to compute credit",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("model", model))
		h.writeError(c, err)
		return
	}
	if credits == nil {
		credits = []attribution.SessionCredit{}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"credits": credits,
	})
}

// similarUsers handles GET /users/:id/similar
func (h *Handler) similarUsers(c *gin.Context) {
	userID := c.Param("id")

	var req dto.SimilarUsersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid similarity request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.queryService.SimilarUsers(c.Request.Context(), userID, &req)
	if err != nil {
		h.log.Error("Failed to find similar users",
			zap.Error(err),
			zap.String("user_id", userID))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// conversionFunnel handles GET /funnel
func (h *Handler) conversionFunnel(c *gin.Context) {
	var req dto.FunnelRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid funnel request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.queryService.ConversionFunnel(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get funnel",
			zap.Error(err),
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
