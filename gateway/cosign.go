package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"nodegate/cosign"
)

type coSignRequest struct {
	SerializedTransaction string `json:"serializedTransaction"`
	Nonce                 int64  `json:"nonce"`
}

// coSignResponse is the co-sign boundary contract.
type coSignResponse struct {
	IsValid   bool   `json:"isValid"`
	Message   string `json:"message"`
	Signature string `json:"signature,omitempty"`
	Code      string `json:"code"`
}

func (s *Server) handleCoSign(w http.ResponseWriter, r *http.Request) {
	var req coSignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.observeCoSign(cosign.CodePayloadInvalid)
		writeJSON(w, http.StatusBadRequest, coSignResponse{
			Message: "malformed co-sign request",
			Code:    cosign.CodePayloadInvalid,
		})
		return
	}

	resp := s.coSign(r.Context(), req)
	s.metrics.observeCoSign(resp.Code)
	status := http.StatusOK
	if !resp.IsValid {
		status = httpStatusForCode(resp.Code)
	}
	writeJSON(w, status, resp)
}

// coSign runs the broadcaster and shapes its outcome for the wire. Shared by
// the HTTP route and the websocket sign-and-send event.
func (s *Server) coSign(ctx context.Context, req coSignRequest) coSignResponse {
	if req.SerializedTransaction == "" {
		return coSignResponse{Message: "serializedTransaction is required", Code: cosign.CodePayloadInvalid}
	}
	sig, err := s.caster.CoSign(ctx, req.SerializedTransaction, req.Nonce)
	if err != nil {
		code := cosign.ErrorCode(err)
		s.logger.Warn("co-sign rejected", "nonce", req.Nonce, "code", code, "err", err)
		resp := coSignResponse{Message: err.Error(), Code: code}
		// A ledger-update failure after confirmation still carries the
		// on-chain signature.
		if code == cosign.CodeLedgerUpdateFailed && !sig.IsZero() {
			resp.Signature = sig.String()
		}
		return resp
	}
	return coSignResponse{
		IsValid:   true,
		Message:   "transaction co-signed and confirmed",
		Signature: sig.String(),
		Code:      cosign.CodeOK,
	}
}
