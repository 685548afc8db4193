package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gagliardetto/solana-go"

	"nodegate/chain"
	"nodegate/cosign"
)

// rewardEntryAccountSize is the on-chain size of a reward entry account, used
// to estimate rent for claim simulations.
const rewardEntryAccountSize = 165

type claimFeeEstimate struct {
	PriorityFeeMicroLamports uint64 `json:"priorityFeeMicroLamports"`
	RentLamports             uint64 `json:"rentLamports"`
}

type claimFeeQuery struct {
	Kind string `json:"kind"`
}

// handleClaimFee returns the cached fee estimate for a claim-shaped
// transaction: the oracle priority fee plus the rent-exemption minimum for a
// reward entry account.
func (s *Server) handleClaimFee(w http.ResponseWriter, r *http.Request) {
	value, err := s.cache.GetOrExecute(r.Context(), claimFeeQuery{Kind: "claim-fee"}, func(ctx context.Context) (any, error) {
		rent, err := s.rpc.GetMinimumBalanceForRentExemption(ctx, rewardEntryAccountSize, chain.Commitment)
		if err != nil {
			return nil, err
		}
		return claimFeeEstimate{
			PriorityFeeMicroLamports: s.fees.PriorityFee(ctx, string(cosign.ActionClaimRewards)),
			RentLamports:             rent,
		}, nil
	})
	if err != nil {
		s.logger.Warn("claim fee simulation failed", "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": true, "code": cosign.CodeBroadcastFailed, "message": "fee simulation unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// handleListAuthorizations returns the wallet's recent authorization records.
func (s *Server) handleListAuthorizations(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": true, "code": cosign.CodePayloadInvalid, "message": "wallet is not a valid public key",
		})
		return
	}
	records, err := s.ledger.ListByWallet(r.Context(), wallet, 50)
	if err != nil {
		s.logger.Error("authorization listing failed", "wallet", wallet, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": true, "code": cosign.CodeInternal, "message": "listing unavailable",
		})
		return
	}
	type item struct {
		Nonce                int64  `json:"nonce"`
		Action               string `json:"action"`
		Status               string `json:"status"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		CreatedAt            string `json:"createdAt"`
	}
	out := make([]item, 0, len(records))
	for _, rec := range records {
		out = append(out, item{
			Nonce:                rec.ID,
			Action:               rec.Action,
			Status:               rec.Status,
			LastValidBlockHeight: rec.LastValidBlockHeight,
			CreatedAt:            rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "authorizations": out})
}
