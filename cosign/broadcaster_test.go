package cosign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nodegate/chain"
	"nodegate/ledger"
)

type testEnv struct {
	stub          *stubRPC
	admin         *solana.Wallet
	wallet        *solana.Wallet
	deriver       *chain.Deriver
	builder       *Builder
	db            *gorm.DB
	ldg           *ledger.Ledger
	caster        *Broadcaster
	treasuryToken solana.PublicKey
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stub := newStubRPC()
	admin := solana.NewWallet()
	deriver := testDeriver()
	treasury := solana.NewWallet().PublicKey()

	builder := testBuilder(t, stub, admin.PrivateKey, deriver, treasury)
	treasuryToken, err := builder.TreasuryTokenAccount()
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, ledger.AutoMigrate(db))
	ldg := ledger.New(db, 30*time.Second, testLogger())

	caster := NewBroadcaster(stub, NewHasher(), ldg, admin.PrivateKey, deriver,
		treasuryToken, 5*time.Second, testLogger())

	return &testEnv{
		stub:          stub,
		admin:         admin,
		wallet:        solana.NewWallet(),
		deriver:       deriver,
		builder:       builder,
		db:            db,
		ldg:           ldg,
		caster:        caster,
		treasuryToken: treasuryToken,
	}
}

func (e *testEnv) claimPayload() *ClaimRewardsPayload {
	return &ClaimRewardsPayload{
		WalletAddress: e.wallet.PublicKey().String(),
		MinerID:       "miner-1",
		RewardIDs:     []uint64{1, 2},
		ClaimerType:   1,
	}
}

func (e *testEnv) prepareClaim(t *testing.T, nonce int64) *BuiltTx {
	t.Helper()
	payload := e.claimPayload()
	built, err := e.builder.Build(context.Background(), payload)
	require.NoError(t, err)

	for _, id := range payload.RewardIDs {
		require.NoError(t, e.db.Create(&ledger.Reward{
			ID:            id,
			WalletAddress: payload.WalletAddress,
			MinerID:       payload.MinerID,
			Amount:        1000,
			Status:        ledger.RewardStatusReady,
			PaymentStatus: ledger.RewardPaymentPending,
		}).Error)
	}
	require.NoError(t, e.ldg.Create(context.Background(), ledger.CreateParams{
		Nonce:                nonce,
		WalletAddress:        payload.WalletAddress,
		Action:               string(ActionClaimRewards),
		ExpectedHash:         built.Hash,
		LinkedRewardIDs:      payload.RewardIDs,
		MinerID:              payload.MinerID,
		ClaimerType:          payload.ClaimerType,
		LastValidBlockHeight: built.LastValidBlockHeight,
	}))
	return built
}

func (e *testEnv) recordStatus(t *testing.T, nonce int64) string {
	t.Helper()
	record, err := e.ldg.Get(context.Background(), nonce)
	require.NoError(t, err)
	return record.Status
}

func TestCoSignHappyPath(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	sig, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, 1, e.stub.sentCount())
	assert.Equal(t, ledger.StatusAuthorized, e.recordStatus(t, nonce))
}

func TestCoSignRejectsTamperedTransaction(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	e.prepareClaim(t, nonce)

	// Rebuild the same claim against a different blockhash: same reward set,
	// different canonical content.
	e.stub.blockhash = solana.Hash(solana.NewWallet().PublicKey())
	tampered, err := e.builder.Build(context.Background(), e.claimPayload())
	require.NoError(t, err)

	_, err = e.caster.CoSign(context.Background(), tampered.Serialized, nonce)
	requireCode(t, err, CodeHashMismatch)
	assert.Equal(t, 0, e.stub.sentCount(), "no broadcast on integrity failure")
	assert.Equal(t, ledger.StatusRequesting, e.recordStatus(t, nonce), "ledger unchanged")
}

func TestCoSignExpiredAuthorization(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	e.ldg.SetNow(func() time.Time { return time.Now().Add(35 * time.Second) })
	_, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeNonceExpired)
	assert.Equal(t, ledger.StatusExpired, e.recordStatus(t, nonce))
}

func TestCoSignRewardSetMismatch(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	e.prepareClaim(t, nonce) // linked ids [1,2]

	// Present a claim for an id outside the linked set.
	outside := e.claimPayload()
	outside.RewardIDs = []uint64{1, 3}
	built, err := e.builder.Build(context.Background(), outside)
	require.NoError(t, err)

	_, err = e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeRewardsMismatch)
	assert.Equal(t, 0, e.stub.sentCount())
}

func TestCoSignUnknownNonce(t *testing.T) {
	e := newTestEnv(t)
	built, err := e.builder.Build(context.Background(), e.claimPayload())
	require.NoError(t, err)

	_, err = e.caster.CoSign(context.Background(), built.Serialized, 404)
	requireCode(t, err, CodeNonceNotFound)
}

func TestCoSignSuspiciousNodeInitialization(t *testing.T) {
	e := newTestEnv(t)
	wallet := e.wallet.PublicKey()

	nodeEntry, err := e.deriver.NodeEntry("miner-1")
	require.NoError(t, err)
	config, err := e.deriver.ConfigAccount(e.deriver.RewardProgram)
	require.NoError(t, err)
	source, err := e.deriver.UserTokenAccount(wallet)
	require.NoError(t, err)
	rogue := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction([]solana.Instruction{
		chain.NewInitializeNFNodeInstruction(e.deriver.RewardProgram, "miner-1", 10_000_000, nodeEntry, config, wallet, e.admin.PublicKey()),
		token.NewTransferInstruction(10_000_000, source, rogue, wallet, nil).Build(),
	}, e.stub.blockhash, solana.TransactionPayer(wallet))
	require.NoError(t, err)
	serialized, err := tx.ToBase64()
	require.NoError(t, err)

	_, err = e.caster.CoSign(context.Background(), serialized, 0)
	requireCode(t, err, CodeSuspiciousTransfer)
	assert.Equal(t, 0, e.stub.sentCount(), "no broadcast attempted")
}

func TestCoSignRejectsActionSmuggledIntoNodeInitialization(t *testing.T) {
	e := newTestEnv(t)
	wallet := e.wallet.PublicKey()

	nodeEntry, err := e.deriver.NodeEntry("miner-1")
	require.NoError(t, err)
	config, err := e.deriver.ConfigAccount(e.deriver.RewardProgram)
	require.NoError(t, err)
	authority, err := e.deriver.TokenStorageAuthority()
	require.NoError(t, err)
	storageToken, err := e.deriver.TokenStorageAccount()
	require.NoError(t, err)
	userToken, err := e.deriver.UserTokenAccount(wallet)
	require.NoError(t, err)
	entry, err := e.deriver.RewardEntry(wallet, 999)
	require.NoError(t, err)

	// A node-initialization transaction with an unauthorized claim riding
	// along; neither instruction may be co-signed.
	tx, err := solana.NewTransaction([]solana.Instruction{
		chain.NewInitializeNFNodeInstruction(e.deriver.RewardProgram, "miner-1", 10_000_000, nodeEntry, config, wallet, e.admin.PublicKey()),
		token.NewTransferInstruction(10_000_000, userToken, e.treasuryToken, wallet, nil).Build(),
		chain.NewClaimRewardsInstruction(e.deriver.RewardProgram, "miner-1", []uint64{999}, 1,
			config, authority, storageToken, userToken, wallet, e.admin.PublicKey(), []solana.PublicKey{entry}),
	}, e.stub.blockhash, solana.TransactionPayer(wallet))
	require.NoError(t, err)
	serialized, err := tx.ToBase64()
	require.NoError(t, err)

	_, err = e.caster.CoSign(context.Background(), serialized, 0)
	requireCode(t, err, CodePayloadInvalid)
	assert.Equal(t, 0, e.stub.sentCount(), "no broadcast attempted")
}

func TestCoSignAddHostRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000

	payload := &AddHostPayload{
		WalletAddress: e.wallet.PublicKey().String(),
		MinerID:       "miner-1",
		HostID:        "host-7",
	}
	built, err := e.builder.Build(context.Background(), payload)
	require.NoError(t, err)
	require.NoError(t, e.ldg.Create(context.Background(), ledger.CreateParams{
		Nonce:                nonce,
		WalletAddress:        payload.WalletAddress,
		Action:               string(ActionAddHost),
		ExpectedHash:         built.Hash,
		MinerID:              payload.MinerID,
		LastValidBlockHeight: built.LastValidBlockHeight,
	}))

	sig, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, ledger.StatusAuthorized, e.recordStatus(t, nonce))
}

func TestCoSignNodeInitializationToTreasury(t *testing.T) {
	e := newTestEnv(t)

	built, err := e.builder.Build(context.Background(), &InitializeNodePayload{
		WalletAddress: e.wallet.PublicKey().String(),
		MinerID:       "miner-1",
	})
	require.NoError(t, err)
	assert.Empty(t, built.Hash, "node initialization records no expected hash")

	sig, err := e.caster.CoSign(context.Background(), built.Serialized, 0)
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, 1, e.stub.sentCount())
}

func TestCoSignExpiredBlockhash(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	e.stub.blockhashValid = false
	_, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeBlockhashExpired)
	assert.Equal(t, 0, e.stub.sentCount())
}

func TestCoSignOutlivedBlockHeight(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	e.stub.blockHeight = built.LastValidBlockHeight + 1
	_, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeBlockhashExpired)
}

func TestCoSignBroadcastFailureRecordsOutcome(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	e.stub.sendErr = errors.New("node unavailable")
	_, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeBroadcastFailed)
	assert.Equal(t, ledger.StatusUnauthorized, e.recordStatus(t, nonce))
}

func TestCoSignOnChainFailureRecordsOutcome(t *testing.T) {
	e := newTestEnv(t)
	const nonce = 20240601123000
	built := e.prepareClaim(t, nonce)

	e.stub.chainErr = map[string]any{"InstructionError": []any{0, "Custom"}}
	_, err := e.caster.CoSign(context.Background(), built.Serialized, nonce)
	requireCode(t, err, CodeBroadcastFailed)
	assert.Equal(t, ledger.StatusUnauthorized, e.recordStatus(t, nonce))
}

func TestCoSignGarbageInput(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.caster.CoSign(context.Background(), "%%%", 1)
	requireCode(t, err, CodePayloadInvalid)
}
