package cosign

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"nodegate/chain"
	"nodegate/simcache"
)

// stubRPC satisfies chain.RPC with canned responses.
type stubRPC struct {
	mu sync.Mutex

	blockhash            solana.Hash
	lastValidBlockHeight uint64
	blockHeight          uint64
	blockhashValid       bool

	sendErr   error
	sent      []*solana.Transaction
	confirmed bool
	chainErr  any
}

func newStubRPC() *stubRPC {
	return &stubRPC{
		blockhash:            solana.Hash(solana.NewWallet().PublicKey()),
		lastValidBlockHeight: 1_000,
		blockHeight:          900,
		blockhashValid:       true,
		confirmed:            true,
	}
}

func (s *stubRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{
		Blockhash:            s.blockhash,
		LastValidBlockHeight: s.lastValidBlockHeight,
	}}, nil
}

func (s *stubRPC) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockHeight, nil
}

func (s *stubRPC) IsBlockhashValid(ctx context.Context, blockhash solana.Hash, commitment rpc.CommitmentType) (*rpc.IsValidBlockhashResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &rpc.IsValidBlockhashResult{Value: s.blockhashValid}, nil
}

func (s *stubRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return solana.Signature{}, s.sendErr
	}
	s.sent = append(s.sent, tx)
	for _, sig := range tx.Signatures {
		if !sig.IsZero() {
			return sig, nil
		}
	}
	return solana.Signature{1}, nil
}

func (s *stubRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := &rpc.SignatureStatusesResult{Err: s.chainErr}
	if s.confirmed {
		status.ConfirmationStatus = rpc.ConfirmationStatusConfirmed
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (s *stubRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	return nil, rpc.ErrNotFound
}

func (s *stubRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: 0}, nil
}

func (s *stubRPC) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	return 2_039_280, nil
}

func (s *stubRPC) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var _ chain.RPC = (*stubRPC)(nil)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// testBuilder wires a Builder onto the stub RPC with a stub program registry.
func testBuilder(t *testing.T, stub *stubRPC, admin solana.PrivateKey, deriver *chain.Deriver, treasury solana.PublicKey) *Builder {
	t.Helper()
	registry := chain.NewRegistry(func(ctx context.Context, id solana.PublicKey) (*chain.ProgramClient, error) {
		return &chain.ProgramClient{ProgramID: id, RPC: stub, Admin: admin}, nil
	}, testLogger())

	cache := simcache.New(time.Minute)
	t.Cleanup(cache.Close)
	fees := chain.NewFeeOracle("", 5_000, cache, testLogger())

	return NewBuilder(registry, deriver, fees, admin, treasury, 10_000_000, 400_000, testLogger())
}

func testDeriver() *chain.Deriver {
	return &chain.Deriver{
		RewardProgram:  solana.NewWallet().PublicKey(),
		AirdropProgram: solana.NewWallet().PublicKey(),
		StakeProgram:   solana.NewWallet().PublicKey(),
		Mint:           solana.NewWallet().PublicKey(),
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, ErrorCode(err))
}
