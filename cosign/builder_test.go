package cosign

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodegate/chain"
	"nodegate/simcache"
)

func TestBuildClaimTransactionShape(t *testing.T) {
	e := newTestEnv(t)
	built, err := e.builder.Build(context.Background(), e.claimPayload())
	require.NoError(t, err)

	msg := &built.Tx.Message
	assert.Equal(t, e.wallet.PublicKey(), msg.AccountKeys[0], "fee payer is the requesting wallet")
	assert.Equal(t, e.stub.blockhash, msg.RecentBlockhash)
	assert.NotEmpty(t, built.Hash)
	assert.Equal(t, uint64(1_000), built.LastValidBlockHeight)

	// Priority fee and compute limit lead, the program instruction follows.
	require.GreaterOrEqual(t, len(msg.Instructions), 3)
	first, err := instructionProgram(msg, &msg.Instructions[0])
	require.NoError(t, err)
	assert.Equal(t, computebudget.ProgramID, first)
	last, err := instructionProgram(msg, &msg.Instructions[len(msg.Instructions)-1])
	require.NoError(t, err)
	assert.Equal(t, e.deriver.RewardProgram, last)
}

func TestBuildAppliesAdminPartialSignature(t *testing.T) {
	e := newTestEnv(t)
	built, err := e.builder.Build(context.Background(), e.claimPayload())
	require.NoError(t, err)

	tx, err := solana.TransactionFromBase64(built.Serialized)
	require.NoError(t, err)

	adminPub := e.admin.PublicKey()
	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	adminIdx := -1
	walletIdx := -1
	for i := 0; i < numRequired; i++ {
		switch {
		case tx.Message.AccountKeys[i].Equals(adminPub):
			adminIdx = i
		case tx.Message.AccountKeys[i].Equals(e.wallet.PublicKey()):
			walletIdx = i
		}
	}
	require.NotEqual(t, -1, adminIdx, "admin must be a required signer")
	require.NotEqual(t, -1, walletIdx, "wallet must be a required signer")

	msgBytes, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	adminSig := tx.Signatures[adminIdx]
	assert.True(t, ed25519.Verify(ed25519.PublicKey(adminPub[:]), msgBytes, adminSig[:]),
		"admin signature must verify over the signing message")
	assert.True(t, tx.Signatures[walletIdx].IsZero(), "user signature slot stays empty")
}

func TestBuildNodeInitIncludesNetworkFeeTransfer(t *testing.T) {
	e := newTestEnv(t)
	built, err := e.builder.Build(context.Background(), &InitializeNodePayload{
		WalletAddress: e.wallet.PublicKey().String(),
		MinerID:       "miner-1",
	})
	require.NoError(t, err)

	msg := &built.Tx.Message
	last := &msg.Instructions[len(msg.Instructions)-1]
	program, err := instructionProgram(msg, last)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, program, "network fee transfer is the trailing instruction")

	metas, err := instructionAccounts(msg, last)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, e.treasuryToken, metas[1].PublicKey, "fee goes to the treasury token account")
}

func TestBuildSurfacesProgramInitFailure(t *testing.T) {
	registry := chain.NewRegistry(func(ctx context.Context, id solana.PublicKey) (*chain.ProgramClient, error) {
		return nil, errors.New("endpoint unreachable")
	}, testLogger())
	cache := simcache.New(time.Minute)
	t.Cleanup(cache.Close)
	fees := chain.NewFeeOracle("", 5_000, cache, testLogger())
	builder := NewBuilder(registry, testDeriver(), fees, solana.NewWallet().PrivateKey,
		solana.NewWallet().PublicKey(), 10_000_000, 400_000, testLogger())

	_, err := builder.Build(context.Background(), &InitializeStakePayload{
		WalletAddress: solana.NewWallet().PublicKey().String(),
	})
	requireCode(t, err, CodeProgramNotInitialized)
}
