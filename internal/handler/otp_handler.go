package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-service/internal/service"
	"otp-service/internal/util"
)

// OTPHandler handles HTTP requests for the OTP lifecycle
type OTPHandler struct {
	otpService *service.OTPService
	reaper     *service.Reaper
	logger     *zap.Logger
}

// NewOTPHandler creates a new OTP handler
func NewOTPHandler(otpService *service.OTPService, reaper *service.Reaper, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		reaper:     reaper,
		logger:     logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all OTP routes
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Post("/verify", h.Verify)
		r.Post("/cleanup", h.Cleanup)
		r.Get("/health", h.HealthCheck)
	})
}

// Generate issues codes for the supplied channels.
func (h *OTPHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "Invalid request body")
		return
	}

	result, err := h.otpService.Generate(ctx, &req)
	if err != nil {
		// A mid-request store failure can leave one channel persisted; record
		// that server-side so the partial success is not lost.
		if result != nil {
			h.logger.Warn("OTP generation partially completed",
				util.Bool("email_persisted", result.Email != nil),
				util.Bool("phone_persisted", result.Phone != nil),
			)
		}
		h.respondWithServiceError(w, err, "Failed to generate OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(
		map[string]interface{}{"results": result}, "OTPs generated successfully"))
	h.logger.Info("OTP generation via HTTP",
		util.Bool("email", result.Email != nil),
		util.Bool("phone", result.Phone != nil),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Generate"),
	)
}

// Verify checks a submitted code against the pending record.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidInput, "Invalid request body")
		return
	}

	result, err := h.otpService.Verify(ctx, &req)
	if err != nil {
		h.respondWithServiceError(w, err, "OTP verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "OTP verified successfully"))
	h.logger.Info("OTP verified via HTTP",
		util.String("type", result.Type),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Verify"),
	)
}

// Cleanup triggers an expired-record sweep.
func (h *OTPHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	result, err := h.reaper.Sweep(ctx)
	if err != nil {
		if result != nil {
			h.logger.Warn("Cleanup completed partially",
				util.Int("deleted", result.Deleted),
				util.Int("failed", result.Failed),
			)
		}
		h.respondWithServiceError(w, err, "Cleanup failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Cleanup completed"))
	h.logger.Info("Cleanup via HTTP",
		util.Int("deleted", result.Deleted),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Cleanup"),
	)
}

// HealthCheck handles service health check
func (h *OTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.otpService.HealthCheck(ctx); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, service.ErrStoreUnavailable, "Service unhealthy")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Service is healthy"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *OTPHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// respondWithServiceError maps a service error to its HTTP outcome. Store
// failures collapse to a generic internal error: the diagnostic detail stays
// in server logs only.
func (h *OTPHandler) respondWithServiceError(w http.ResponseWriter, err error, message string) {
	statusCode, public := h.mapServiceError(err)
	h.respondWithError(w, statusCode, public, message)
}

// mapServiceError determines the status code and the user-facing error for a
// service error.
func (h *OTPHandler) mapServiceError(err error) (int, error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err
	case errors.Is(err, service.ErrOTPNotFound):
		return http.StatusNotFound, service.ErrOTPNotFound
	case errors.Is(err, service.ErrOTPExpired):
		return http.StatusBadRequest, service.ErrOTPExpired
	case errors.Is(err, service.ErrAttemptsExhausted):
		return http.StatusBadRequest, service.ErrAttemptsExhausted
	case errors.Is(err, service.ErrOTPMismatch):
		return http.StatusBadRequest, service.ErrOTPMismatch
	default:
		return http.StatusInternalServerError, errors.New("internal server error")
	}
}
