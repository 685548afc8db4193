package cosign

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"nodegate/chain"
)

// memoProgramID is the SPL memo program carrying the JSON action payload.
var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// Memo instruction data stays well under the transaction packet limit.
const memoChunkSize = 512

// Authenticator issues and verifies admin-signed action messages. An action
// message is a transaction whose first instruction is a zero-lamport system
// transfer marker and whose trailing memo instructions concatenate to a JSON
// payload carrying the action discriminant.
type Authenticator struct {
	admin solana.PrivateKey
	rpc   chain.RPC
}

func NewAuthenticator(admin solana.PrivateKey, rpc chain.RPC) *Authenticator {
	return &Authenticator{admin: admin, rpc: rpc}
}

// IssueActionMessage builds and signs an action message embedding payload.
// Returns the base64 wire encoding.
func (a *Authenticator) IssueActionMessage(ctx context.Context, payload Payload) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", err
	}
	body, err := EncodeEnvelope(payload)
	if err != nil {
		return "", err
	}

	adminPub := a.admin.PublicKey()
	instructions := []solana.Instruction{
		system.NewTransferInstruction(0, adminPub, adminPub).Build(),
	}
	for off := 0; off < len(body); off += memoChunkSize {
		end := off + memoChunkSize
		if end > len(body) {
			end = len(body)
		}
		instructions = append(instructions, solana.NewInstruction(
			memoProgramID,
			solana.AccountMetaSlice{solana.NewAccountMeta(adminPub, false, true)},
			body[off:end],
		))
	}

	blockhash, err := a.rpc.GetLatestBlockhash(ctx, chain.Commitment)
	if err != nil {
		return "", &NetworkError{Code: CodeBroadcastFailed, Message: "fetch blockhash for action message", Err: err}
	}
	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(adminPub))
	if err != nil {
		return "", fmt.Errorf("assemble action message: %w", err)
	}
	if _, err := tx.Sign(a.signerFor); err != nil {
		return "", fmt.Errorf("sign action message: %w", err)
	}
	return tx.ToBase64()
}

// VerifyActionMessage checks the admin signature on a previously-issued
// action message and returns its validated payload.
func (a *Authenticator) VerifyActionMessage(serialized string) (Payload, error) {
	tx, err := solana.TransactionFromBase64(serialized)
	if err != nil {
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("malformed transaction: %v", err)}
	}

	if err := a.verifyAdminSignature(tx); err != nil {
		return nil, err
	}

	msg := &tx.Message
	if len(msg.Instructions) < 2 {
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: "action message carries no payload instructions"}
	}
	marker, err := instructionProgram(msg, &msg.Instructions[0])
	if err != nil {
		return nil, err
	}
	if !marker.Equals(solana.SystemProgramID) {
		return nil, &ValidationError{Code: CodeSignatureInvalid, Message: "action message is missing its transfer marker"}
	}

	var body []byte
	for i := 1; i < len(msg.Instructions); i++ {
		program, err := instructionProgram(msg, &msg.Instructions[i])
		if err != nil {
			return nil, err
		}
		if !program.Equals(memoProgramID) {
			return nil, &ValidationError{Code: CodePayloadInvalid, Message: "unexpected instruction in action message"}
		}
		body = append(body, msg.Instructions[i].Data...)
	}
	return ParseEnvelope(body)
}

func (a *Authenticator) verifyAdminSignature(tx *solana.Transaction) error {
	adminPub := a.admin.PublicKey()
	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	if numRequired > len(tx.Message.AccountKeys) || numRequired > len(tx.Signatures) {
		return &ValidationError{Code: CodeSignatureInvalid, Message: "malformed signature section"}
	}

	sigIndex := -1
	for i := 0; i < numRequired; i++ {
		if tx.Message.AccountKeys[i].Equals(adminPub) {
			sigIndex = i
			break
		}
	}
	if sigIndex == -1 {
		return &ValidationError{Code: CodeSignatureInvalid, Message: "admin key is not a signer of this message"}
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serialize signing message: %w", err)
	}
	sig := tx.Signatures[sigIndex]
	if !ed25519.Verify(ed25519.PublicKey(adminPub[:]), msgBytes, sig[:]) {
		return &ValidationError{Code: CodeSignatureInvalid, Message: "admin signature does not verify"}
	}
	return nil
}

// signerFor returns the admin private key for its own public key only.
func (a *Authenticator) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(a.admin.PublicKey()) {
		return &a.admin
	}
	return nil
}
