package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aelleshop/aelle-api/internal/auth"
)

const otpSessionTTL = 30 * 24 * time.Hour

// mobileUserNamespace derives a stable user id from a verified mobile
// number, so repeat logins map to the same account.
var mobileUserNamespace = uuid.MustParse("7b7864a9-3a8d-4d5e-9f0c-1a2b3c4d5e6f")

type sendOTPRequest struct {
	Mobile string `json:"mobile"`
}

// SendOTP handles POST /auth/otp/send.
func (h *Handlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	if err := h.otpService.Send(r.Context(), req.Mobile); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"message": "otp sent",
	})
}

type verifyOTPRequest struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

// VerifyOTP handles POST /auth/otp/verify. A correct code exchanges the
// mobile number for a bearer token.
func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeBadRequest(w, r, err)
		return
	}

	if err := h.otpService.Verify(r.Context(), req.Mobile, req.OTP); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	identity := auth.Identity{
		UserID: uuid.NewSHA1(mobileUserNamespace, []byte(req.Mobile)),
	}
	token, err := h.authMW.IssueToken(identity, otpSessionTTL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"userId":  identity.UserID,
	})
}
