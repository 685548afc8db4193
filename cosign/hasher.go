package cosign

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// walletGuardProgramID is the assertion-guard program some wallets inject
// into outgoing transactions. Its instructions carry no action semantics, so
// it is normalized away before hashing.
var walletGuardProgramID = solana.MustPublicKeyFromBase58("L2TExMFKdjpN9kozasaurPirfHy9P8sbXeLxCutfzNm")

// Hasher computes the canonical content hash of a transaction. Two
// transactions with the same fee payer, blockhash and instruction set (after
// dropping wallet-injected fee/compute instructions) hash identically,
// regardless of which signatures are present.
type Hasher struct {
	denylist []solana.PublicKey
}

// NewHasher returns a hasher that drops compute-budget instructions plus any
// instructions of the given extra denylisted programs.
func NewHasher(extra ...solana.PublicKey) *Hasher {
	return &Hasher{denylist: append([]solana.PublicKey{walletGuardProgramID}, extra...)}
}

// Canonicalize rebuilds tx with the fee payer and blockhash preserved,
// denylisted instructions dropped, and every signature slot empty.
func (h *Hasher) Canonicalize(tx *solana.Transaction) (*solana.Transaction, error) {
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 {
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: "transaction has no account keys"}
	}
	payer := msg.AccountKeys[0]

	var kept []solana.Instruction
	for i := range msg.Instructions {
		ci := &msg.Instructions[i]
		program, err := instructionProgram(msg, ci)
		if err != nil {
			return nil, err
		}
		if h.dropped(program) {
			continue
		}
		metas, err := instructionAccounts(msg, ci)
		if err != nil {
			return nil, err
		}
		kept = append(kept, solana.NewInstruction(program, metas, ci.Data))
	}

	canonical, err := solana.NewTransaction(kept, msg.RecentBlockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("recompile canonical transaction: %w", err)
	}
	return canonical, nil
}

// Hash canonicalizes tx and digests the compiled message.
func (h *Hasher) Hash(tx *solana.Transaction) ([sha256.Size]byte, error) {
	canonical, err := h.Canonicalize(tx)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	raw, err := canonical.Message.MarshalBinary()
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("serialize canonical message: %w", err)
	}
	return sha256.Sum256(raw), nil
}

// HashHex returns the canonical hash as lowercase hex.
func (h *Hasher) HashHex(tx *solana.Transaction) (string, error) {
	sum, err := h.Hash(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the canonical hash of tx and compares it to expectedHex.
func (h *Hasher) Verify(tx *solana.Transaction, expectedHex string) error {
	got, err := h.HashHex(tx)
	if err != nil {
		return err
	}
	if got != expectedHex {
		return &IntegrityError{Code: CodeHashMismatch, Message: "transaction content does not match the authorized transaction"}
	}
	return nil
}

func (h *Hasher) dropped(program solana.PublicKey) bool {
	if program.Equals(computebudget.ProgramID) {
		return true
	}
	for _, p := range h.denylist {
		if program.Equals(p) {
			return true
		}
	}
	return false
}

// instructionProgram resolves a compiled instruction's program id.
func instructionProgram(msg *solana.Message, ci *solana.CompiledInstruction) (solana.PublicKey, error) {
	idx := int(ci.ProgramIDIndex)
	if idx >= len(msg.AccountKeys) {
		return solana.PublicKey{}, &ValidationError{Code: CodePayloadInvalid, Message: "program id index out of range"}
	}
	return msg.AccountKeys[idx], nil
}

// instructionAccounts resolves a compiled instruction's account metas using
// the message header's signer/writable partitioning.
func instructionAccounts(msg *solana.Message, ci *solana.CompiledInstruction) (solana.AccountMetaSlice, error) {
	numRequired := int(msg.Header.NumRequiredSignatures)
	numReadonlySigned := int(msg.Header.NumReadonlySignedAccounts)
	numReadonlyUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)
	total := len(msg.AccountKeys)

	metas := make(solana.AccountMetaSlice, 0, len(ci.Accounts))
	for _, raw := range ci.Accounts {
		idx := int(raw)
		if idx >= total {
			return nil, &ValidationError{Code: CodePayloadInvalid, Message: "account index out of range"}
		}
		signer := idx < numRequired
		var writable bool
		if signer {
			writable = idx < numRequired-numReadonlySigned
		} else {
			writable = idx < total-numReadonlyUnsigned
		}
		metas = append(metas, solana.NewAccountMeta(msg.AccountKeys[idx], writable, signer))
	}
	return metas, nil
}
