package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nodegate/cosign"
	"nodegate/ledger"
)

// prepareResponse is the prepare-transaction boundary contract.
type prepareResponse struct {
	Error        bool    `json:"error"`
	Code         string  `json:"code"`
	Message      string  `json:"message,omitempty"`
	SerializedTx *string `json:"serializedTx"`
}

func prepareFailure(err error) prepareResponse {
	return prepareResponse{Error: true, Code: cosign.ErrorCode(err), Message: err.Error()}
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	action, err := cosign.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		s.metrics.observePrepare(chi.URLParam(r, "action"), cosign.ErrorCode(err))
		writeJSON(w, httpStatusFor(err), prepareFailure(err))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, prepareResponse{Error: true, Code: cosign.CodePayloadInvalid, Message: "read request body"})
		return
	}

	resp := s.prepare(r.Context(), action, body)
	s.metrics.observePrepare(string(action), resp.Code)
	status := http.StatusOK
	if resp.Error {
		status = httpStatusForCode(resp.Code)
	}
	writeJSON(w, status, resp)
}

// prepare runs the full prepare pipeline: authenticate or parse the payload,
// build the admin-partially-signed transaction, and record the authorization.
// Shared by the HTTP route and the websocket event.
func (s *Server) prepare(ctx context.Context, action cosign.Action, body []byte) prepareResponse {
	payload, err := s.resolvePayload(action, body)
	if err != nil {
		return prepareFailure(err)
	}

	nonce := payload.RequestNonce()
	if nonce == 0 {
		nonce = s.now().UnixMilli()
	}

	built, err := s.builder.Build(ctx, payload)
	if err != nil {
		s.logger.Warn("prepare failed", "action", action, "wallet", payload.Wallet(), "err", err)
		return prepareFailure(err)
	}

	// Node initialization has no pre-authorization record; it is verified at
	// co-sign time by the transfer heuristic instead.
	if action != cosign.ActionInitializeNode {
		rewardIDs, minerID, claimerType := ledgerParams(payload)
		err := s.ledger.Create(ctx, ledger.CreateParams{
			Nonce:                nonce,
			WalletAddress:        payload.Wallet(),
			Action:               string(action),
			ExpectedHash:         built.Hash,
			LinkedRewardIDs:      rewardIDs,
			MinerID:              minerID,
			ClaimerType:          claimerType,
			LastValidBlockHeight: built.LastValidBlockHeight,
		})
		if err != nil {
			wrapped := cosign.WrapLedgerError(err)
			s.logger.Warn("authorization record rejected", "nonce", nonce, "err", wrapped)
			return prepareFailure(wrapped)
		}
	}

	s.logger.Info("transaction prepared", "action", action, "wallet", payload.Wallet(), "nonce", nonce)
	return prepareResponse{Code: cosign.CodeOK, SerializedTx: &built.Serialized}
}

// resolvePayload accepts either a plain action payload or an admin-signed
// action message wrapping one.
func (s *Server) resolvePayload(action cosign.Action, body []byte) (cosign.Payload, error) {
	var head struct {
		ActionMessage string `json:"actionMessage"`
	}
	if err := json.Unmarshal(body, &head); err == nil && head.ActionMessage != "" {
		payload, err := s.auth.VerifyActionMessage(head.ActionMessage)
		if err != nil {
			return nil, err
		}
		if payload.Action() != action {
			return nil, &cosign.ValidationError{Code: cosign.CodePayloadInvalid, Message: "action message does not match the requested action"}
		}
		return payload, nil
	}
	return cosign.ParsePayload(action, body)
}

func ledgerParams(p cosign.Payload) (rewardIDs []uint64, minerID string, claimerType uint8) {
	switch v := p.(type) {
	case *cosign.ClaimRewardsPayload:
		return v.RewardIDs, v.MinerID, v.ClaimerType
	case *cosign.ClaimStakerRewardsPayload:
		return v.RewardIDs, "", 0
	case *cosign.AddHostPayload:
		return nil, v.MinerID, 0
	default:
		return nil, "", 0
	}
}

func httpStatusForCode(code string) int {
	switch code {
	case cosign.CodeOK:
		return http.StatusOK
	case cosign.CodeSignatureInvalid, cosign.CodePayloadInvalid:
		return http.StatusBadRequest
	case cosign.CodeNonceNotFound:
		return http.StatusNotFound
	case cosign.CodeNonceConflict, cosign.CodeNonceConsumed:
		return http.StatusConflict
	case cosign.CodeNonceExpired:
		return http.StatusGone
	case cosign.CodeHashMismatch, cosign.CodeSuspiciousTransfer,
		cosign.CodeRewardsMismatch, cosign.CodeMinerMismatch:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
