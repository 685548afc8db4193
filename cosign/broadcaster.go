package cosign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"nodegate/chain"
	"nodegate/ledger"
)

const confirmPollInterval = 700 * time.Millisecond

// Broadcaster finalizes user-returned transactions: it re-verifies integrity,
// checks blockhash liveness, applies the admin co-signature, submits to the
// network and records the outcome in the authorization ledger.
type Broadcaster struct {
	rpc            chain.RPC
	hasher         *Hasher
	ledger         *ledger.Ledger
	admin          solana.PrivateKey
	rewardProgram  solana.PublicKey
	airdropProgram solana.PublicKey
	stakeProgram   solana.PublicKey
	treasuryToken  solana.PublicKey
	confirmTimeout time.Duration
	logger         *slog.Logger
}

func NewBroadcaster(
	rpcClient chain.RPC,
	hasher *Hasher,
	ldg *ledger.Ledger,
	admin solana.PrivateKey,
	deriver *chain.Deriver,
	treasuryToken solana.PublicKey,
	confirmTimeout time.Duration,
	logger *slog.Logger,
) *Broadcaster {
	return &Broadcaster{
		rpc:            rpcClient,
		hasher:         hasher,
		ledger:         ldg,
		admin:          admin,
		rewardProgram:  deriver.RewardProgram,
		airdropProgram: deriver.AirdropProgram,
		stakeProgram:   deriver.StakeProgram,
		treasuryToken:  treasuryToken,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}
}

// CoSign verifies, co-signs, broadcasts and confirms the transaction for
// nonce. On success the ledger record moves to its authorized terminal state
// (node initialization has no record and skips the ledger entirely).
func (b *Broadcaster) CoSign(ctx context.Context, serialized string, nonce int64) (solana.Signature, error) {
	tx, err := solana.TransactionFromBase64(serialized)
	if err != nil {
		return solana.Signature{}, &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("malformed transaction: %v", err)}
	}

	action, programIx, err := b.classify(tx)
	if err != nil {
		return solana.Signature{}, err
	}

	hashVerified := action != ActionInitializeNode
	if hashVerified {
		record, err := b.verifyAgainstLedger(ctx, tx, action, programIx, nonce)
		if err != nil {
			return solana.Signature{}, err
		}
		if err := b.checkBlockhash(ctx, tx, record.LastValidBlockHeight); err != nil {
			return solana.Signature{}, err
		}
	} else {
		if suspicious, err := b.hasSuspiciousTransfers(tx); err != nil {
			return solana.Signature{}, err
		} else if suspicious {
			return solana.Signature{}, &IntegrityError{Code: CodeSuspiciousTransfer, Message: "transaction moves tokens away from the fee payer outside the allowed flow"}
		}
		if err := b.checkBlockhash(ctx, tx, 0); err != nil {
			return solana.Signature{}, err
		}
	}

	if _, err := tx.PartialSign(b.signerFor); err != nil {
		return solana.Signature{}, fmt.Errorf("apply admin co-signature: %w", err)
	}

	sig, err := b.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{SkipPreflight: true})
	if err != nil {
		b.recordOutcome(ctx, nonce, hashVerified, false)
		return solana.Signature{}, &NetworkError{Code: CodeBroadcastFailed, Message: "submit transaction", Err: err}
	}

	if err := b.awaitConfirmation(ctx, sig); err != nil {
		b.recordOutcome(ctx, nonce, hashVerified, false)
		return solana.Signature{}, err
	}

	if hashVerified {
		if err := b.ledger.Transition(ctx, nonce, ledger.StatusAuthorized); err != nil {
			// The transaction confirmed; only the bookkeeping failed.
			return sig, &NetworkError{Code: CodeLedgerUpdateFailed, Message: "record authorization outcome", Err: err}
		}
	}
	b.logger.Info("co-sign confirmed", "nonce", nonce, "action", action, "signature", sig.String())
	return sig, nil
}

// classify scans every instruction against the known program instruction set
// and returns the action plus its program instruction. A prepared transaction
// carries exactly one recognized instruction; anything carrying more is
// rejected outright so a second action can never ride along on the
// verification path of the first.
func (b *Broadcaster) classify(tx *solana.Transaction) (Action, *solana.CompiledInstruction, error) {
	msg := &tx.Message
	var (
		action Action
		match  *solana.CompiledInstruction
	)
	for i := range msg.Instructions {
		ci := &msg.Instructions[i]
		program, err := instructionProgram(msg, ci)
		if err != nil {
			return "", nil, err
		}
		var owned bool
		switch {
		case program.Equals(b.rewardProgram), program.Equals(b.airdropProgram), program.Equals(b.stakeProgram):
			owned = true
		}
		if !owned || len(ci.Data) < 8 {
			continue
		}
		var disc [8]byte
		copy(disc[:], ci.Data[:8])
		a, known := actionForDiscriminator(disc)
		if !known {
			continue
		}
		if match != nil {
			return "", nil, &ValidationError{Code: CodePayloadInvalid, Message: "transaction carries more than one recognized program instruction"}
		}
		action, match = a, ci
	}
	if match == nil {
		return "", nil, &ValidationError{Code: CodePayloadInvalid, Message: "transaction carries no recognized program instruction"}
	}
	return action, match, nil
}

func actionForDiscriminator(disc [8]byte) (Action, bool) {
	switch disc {
	case chain.DiscClaimRewards:
		return ActionClaimRewards, true
	case chain.DiscInitializeNFNode:
		return ActionInitializeNode, true
	case chain.DiscAddHost:
		return ActionAddHost, true
	case chain.DiscUpdateRewardContract:
		return ActionUpdateRewardContract, true
	case chain.DiscInitializeStake:
		return ActionInitializeStake, true
	case chain.DiscStake:
		return ActionStake, true
	case chain.DiscWithdraw:
		return ActionWithdraw, true
	case chain.DiscDeposit:
		return ActionDeposit, true
	case chain.DiscClaimDepinStakerRewards:
		return ActionClaimStakerRewards, true
	}
	return "", false
}

func (b *Broadcaster) verifyAgainstLedger(ctx context.Context, tx *solana.Transaction, action Action, programIx *solana.CompiledInstruction, nonce int64) (*ledger.AuthorizationRecord, error) {
	var (
		rewardIDs   []uint64
		minerID     string
		claimerType uint8
	)
	switch action {
	case ActionClaimRewards:
		var err error
		minerID, rewardIDs, claimerType, err = chain.DecodeClaimRewardsArgs(programIx.Data)
		if err != nil {
			return nil, &ValidationError{Code: CodePayloadInvalid, Message: err.Error()}
		}
	case ActionClaimStakerRewards:
		var err error
		rewardIDs, err = chain.DecodeStakerRewardsArgs(programIx.Data)
		if err != nil {
			return nil, &ValidationError{Code: CodePayloadInvalid, Message: err.Error()}
		}
	case ActionAddHost:
		var err error
		minerID, _, err = chain.DecodeAddHostArgs(programIx.Data)
		if err != nil {
			return nil, &ValidationError{Code: CodePayloadInvalid, Message: err.Error()}
		}
	}

	record, err := b.ledger.Verify(ctx, nonce, rewardIDs, minerID, claimerType)
	if err != nil {
		return nil, WrapLedgerError(err)
	}
	if err := b.hasher.Verify(tx, record.ExpectedHash); err != nil {
		return nil, err
	}
	return record, nil
}

// checkBlockhash rejects transactions whose blockhash has already aged out.
// The blockhash is never replaced; an expired one requires a fresh prepare
// cycle, since replacement would invalidate the user's existing signature.
func (b *Broadcaster) checkBlockhash(ctx context.Context, tx *solana.Transaction, lastValidHeight uint64) error {
	valid, err := b.rpc.IsBlockhashValid(ctx, tx.Message.RecentBlockhash, rpc.CommitmentFinalized)
	if err != nil {
		return &NetworkError{Code: CodeBroadcastFailed, Message: "check blockhash liveness", Err: err}
	}
	if !valid.Value {
		return &NetworkError{Code: CodeBlockhashExpired, Message: "transaction blockhash has expired"}
	}
	if lastValidHeight > 0 {
		height, err := b.rpc.GetBlockHeight(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return &NetworkError{Code: CodeBroadcastFailed, Message: "fetch block height", Err: err}
		}
		if height > lastValidHeight {
			return &NetworkError{Code: CodeBlockhashExpired, Message: "transaction outlived its last valid block height"}
		}
	}
	return nil
}

// hasSuspiciousTransfers flags token transfers whose authority is the fee
// payer and whose destination is neither the treasury token account nor an
// account referenced by a reward-program instruction in the same transaction.
func (b *Broadcaster) hasSuspiciousTransfers(tx *solana.Transaction) (bool, error) {
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 {
		return false, &ValidationError{Code: CodePayloadInvalid, Message: "transaction has no account keys"}
	}
	payer := msg.AccountKeys[0]

	// Accounts a reward-program instruction touches are legitimate transfer
	// destinations within the same transaction.
	covered := make(map[solana.PublicKey]bool)
	for i := range msg.Instructions {
		ci := &msg.Instructions[i]
		program, err := instructionProgram(msg, ci)
		if err != nil {
			return false, err
		}
		if !program.Equals(b.rewardProgram) || len(ci.Data) < 8 {
			continue
		}
		var disc [8]byte
		copy(disc[:], ci.Data[:8])
		if disc == chain.DiscInitializeNFNode {
			// The init instruction itself never legitimizes a transfer.
			continue
		}
		metas, err := instructionAccounts(msg, ci)
		if err != nil {
			return false, err
		}
		for _, meta := range metas {
			covered[meta.PublicKey] = true
		}
	}

	for i := range msg.Instructions {
		ci := &msg.Instructions[i]
		program, err := instructionProgram(msg, ci)
		if err != nil {
			return false, err
		}
		if !program.Equals(solana.TokenProgramID) || len(ci.Data) == 0 {
			continue
		}

		// Token instruction layouts: Transfer is [source, dest, owner],
		// TransferChecked is [source, mint, dest, owner].
		var destIdx, ownerIdx int
		switch ci.Data[0] {
		case 3: // Transfer
			destIdx, ownerIdx = 1, 2
		case 12: // TransferChecked
			destIdx, ownerIdx = 2, 3
		default:
			continue
		}
		metas, err := instructionAccounts(msg, ci)
		if err != nil {
			return false, err
		}
		if len(metas) <= ownerIdx {
			continue
		}
		authority := metas[ownerIdx].PublicKey
		destination := metas[destIdx].PublicKey
		if authority.Equals(payer) && !destination.Equals(b.treasuryToken) && !covered[destination] {
			return true, nil
		}
	}
	return false, nil
}

// awaitConfirmation polls signature statuses until the transaction confirms,
// errors or the confirmation window closes.
func (b *Broadcaster) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, b.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &NetworkError{Code: CodeBroadcastFailed, Message: "transaction did not confirm in time", Err: ctx.Err()}
		case <-ticker.C:
			res, err := b.rpc.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				b.logger.Warn("signature status poll failed", "signature", sig.String(), "err", err)
				continue
			}
			if len(res.Value) == 0 || res.Value[0] == nil {
				continue
			}
			status := res.Value[0]
			if status.Err != nil {
				return &NetworkError{Code: CodeBroadcastFailed, Message: fmt.Sprintf("transaction failed on chain: %v", status.Err)}
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

// recordOutcome moves the ledger to the unauthorized terminal state after a
// failed broadcast. Best effort: the broadcast error is the primary failure.
func (b *Broadcaster) recordOutcome(ctx context.Context, nonce int64, hashVerified, success bool) {
	if !hashVerified || success {
		return
	}
	if err := b.ledger.Transition(ctx, nonce, ledger.StatusUnauthorized); err != nil {
		b.logger.Error("failed to record broadcast outcome", "nonce", nonce, "err", err)
	}
}

func (b *Broadcaster) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(b.admin.PublicKey()) {
		return &b.admin
	}
	return nil
}

// WrapLedgerError maps ledger sentinel errors onto the gateway error
// taxonomy.
func WrapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrDuplicateNonce):
		return &AuthorizationError{Code: CodeNonceConflict, Message: err.Error()}
	case errors.Is(err, ledger.ErrNotFound):
		return &AuthorizationError{Code: CodeNonceNotFound, Message: err.Error()}
	case errors.Is(err, ledger.ErrConsumed):
		return &AuthorizationError{Code: CodeNonceConsumed, Message: err.Error()}
	case errors.Is(err, ledger.ErrExpired):
		return &AuthorizationError{Code: CodeNonceExpired, Message: err.Error()}
	case errors.Is(err, ledger.ErrRewardsMismatch), errors.Is(err, ledger.ErrRewardsNotReady):
		return &AuthorizationError{Code: CodeRewardsMismatch, Message: err.Error()}
	case errors.Is(err, ledger.ErrMinerMismatch):
		return &AuthorizationError{Code: CodeMinerMismatch, Message: err.Error()}
	default:
		return err
	}
}
