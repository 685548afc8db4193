package gateway

import (
	"io"
	"net/http"

	"nodegate/cosign"
)

// handleIssueMessage builds an admin-signed action message embedding the
// posted payload. The body is a self-describing payload carrying its action
// discriminant.
func (s *Server) handleIssueMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, prepareResponse{Error: true, Code: cosign.CodePayloadInvalid, Message: "read request body"})
		return
	}
	payload, err := cosign.ParseEnvelope(body)
	if err != nil {
		writeJSON(w, httpStatusFor(err), prepareFailure(err))
		return
	}
	serialized, err := s.auth.IssueActionMessage(r.Context(), payload)
	if err != nil {
		s.logger.Warn("action message issuance failed", "action", payload.Action(), "err", err)
		writeJSON(w, httpStatusFor(err), prepareFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{Code: cosign.CodeOK, SerializedTx: &serialized})
}
