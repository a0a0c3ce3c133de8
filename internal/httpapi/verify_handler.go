package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// DoseVerifier 延迟校验业务能力
type DoseVerifier interface {
	Verify(ctx context.Context, deviceID, patientID string) (bool, error)
}

// verifyDoseRequest 任务分发器 POST 的请求体
type verifyDoseRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userID"`
}

type verifyDoseResponse struct {
	DeviceID string `json:"deviceId"`
	Missed   bool   `json:"missed"`
}

// VerifyHandler serves the delayed verification callback. The endpoint is
// internal: callers must present the shared task secret, and the handler is
// safe under duplicate deliveries because the verifier behind it is.
type VerifyHandler struct {
	verifier     DoseVerifier
	sharedSecret string
	logger       *zap.Logger
}

func NewVerifyHandler(verifier DoseVerifier, sharedSecret string, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{
		verifier:     verifier,
		sharedSecret: sharedSecret,
		logger:       logger,
	}
}

// VerifyDose POST /tasks/api/v1/verify-dose
func (h *VerifyHandler) VerifyDose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.sharedSecret != "" {
		secret := r.Header.Get("X-Task-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(h.sharedSecret)) != 1 {
			writeJSON(w, http.StatusForbidden, Fail("invalid task secret"))
			return
		}
	}

	var req verifyDoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.DeviceID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("deviceId and userID are required"))
		return
	}

	missed, err := h.verifier.Verify(r.Context(), req.DeviceID, req.UserID)
	if err != nil {
		h.logger.Error("Dose verification failed",
			zap.String("device_id", req.DeviceID),
			zap.String("patient_id", req.UserID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("verification failed"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(verifyDoseResponse{
		DeviceID: req.DeviceID,
		Missed:   missed,
	}))
}
