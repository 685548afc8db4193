package cosign

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	"nodegate/chain"
)

// BuiltTx is the result of preparing a transaction for a user: the in-memory
// transaction (admin partially signed), its base64 wire encoding, the
// canonical content hash (empty for flows verified by heuristic), and the
// blockhash expiry anchor.
type BuiltTx struct {
	Tx                   *solana.Transaction
	Serialized           string
	Hash                 string
	LastValidBlockHeight uint64
}

// Builder assembles the per-action instruction set, prices the priority fee,
// attaches a fresh blockhash and applies the admin partial signature. The fee
// payer is always the requesting wallet.
type Builder struct {
	registry   *chain.Registry
	deriver    *chain.Deriver
	fees       *chain.FeeOracle
	admin      solana.PrivateKey
	treasury   solana.PublicKey
	networkFee uint64
	cuLimit    uint32
	logger     *slog.Logger
}

func NewBuilder(
	registry *chain.Registry,
	deriver *chain.Deriver,
	fees *chain.FeeOracle,
	admin solana.PrivateKey,
	treasury solana.PublicKey,
	networkFee uint64,
	cuLimit uint32,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		registry:   registry,
		deriver:    deriver,
		fees:       fees,
		admin:      admin,
		treasury:   treasury,
		networkFee: networkFee,
		cuLimit:    cuLimit,
		logger:     logger,
	}
}

// Build prepares the transaction for payload. No partial state is persisted
// on failure; the caller records the authorization only after a successful
// build.
func (b *Builder) Build(ctx context.Context, payload Payload) (*BuiltTx, error) {
	wallet, err := solana.PublicKeyFromBase58(payload.Wallet())
	if err != nil {
		return nil, payloadErr(fmt.Sprintf("walletAddress is not a valid public key: %v", err))
	}

	client, err := b.registry.Get(ctx, b.programFor(payload.Action()))
	if err != nil {
		return nil, &ProgramInitError{Message: fmt.Sprintf("program client for %s unavailable", payload.Action()), Err: err}
	}

	actionIxs, err := b.actionInstructions(payload, wallet, client.ProgramID)
	if err != nil {
		return nil, err
	}

	price := b.fees.PriorityFee(ctx, string(payload.Action()))
	priceIx, err := computebudget.NewSetComputeUnitPriceInstruction(price).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build priority fee instruction: %w", err)
	}
	limitIx, err := computebudget.NewSetComputeUnitLimitInstruction(b.cuLimit).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute limit instruction: %w", err)
	}
	instructions := append([]solana.Instruction{priceIx, limitIx}, actionIxs...)

	blockhash, err := client.RPC.GetLatestBlockhash(ctx, chain.Commitment)
	if err != nil {
		return nil, b.prepErr(payload.Action(), "fetch blockhash", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(wallet))
	if err != nil {
		return nil, b.prepErr(payload.Action(), "assemble transaction", err)
	}
	if _, err := tx.PartialSign(b.signerFor); err != nil {
		return nil, fmt.Errorf("apply admin partial signature: %w", err)
	}

	built := &BuiltTx{Tx: tx, LastValidBlockHeight: blockhash.Value.LastValidBlockHeight}

	// Node initialization has no deterministic pre-image (accounts depend on
	// caller-chosen values), so no hash is recorded and co-signing falls back
	// to the transfer heuristic.
	if payload.Action() != ActionInitializeNode {
		hasher := NewHasher()
		built.Hash, err = hasher.HashHex(tx)
		if err != nil {
			return nil, err
		}
	}

	built.Serialized, err = tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	b.logger.Info("transaction prepared", "action", payload.Action(), "wallet", wallet.String())
	return built, nil
}

// TreasuryTokenAccount returns the treasury's associated token account for
// the reward mint, the destination of network-fee transfers.
func (b *Builder) TreasuryTokenAccount() (solana.PublicKey, error) {
	return b.deriver.UserTokenAccount(b.treasury)
}

func (b *Builder) programFor(action Action) solana.PublicKey {
	switch action {
	case ActionClaimStakerRewards:
		return b.deriver.AirdropProgram
	case ActionInitializeStake, ActionStake, ActionWithdraw, ActionDeposit:
		return b.deriver.StakeProgram
	default:
		return b.deriver.RewardProgram
	}
}

func (b *Builder) actionInstructions(payload Payload, wallet, programID solana.PublicKey) ([]solana.Instruction, error) {
	adminPub := b.admin.PublicKey()
	switch p := payload.(type) {
	case *ClaimRewardsPayload:
		config, err := b.deriver.ConfigAccount(programID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive config account", err)
		}
		authority, err := b.deriver.TokenStorageAuthority()
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive storage authority", err)
		}
		storageToken, err := b.deriver.TokenStorageAccount()
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive storage token account", err)
		}
		userToken, err := b.deriver.UserTokenAccount(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive user token account", err)
		}
		entries := make([]solana.PublicKey, 0, len(p.RewardIDs))
		for _, id := range p.RewardIDs {
			entry, err := b.deriver.RewardEntry(wallet, id)
			if err != nil {
				return nil, b.prepErr(p.Action(), "derive reward entry", err)
			}
			entries = append(entries, entry)
		}
		return []solana.Instruction{chain.NewClaimRewardsInstruction(
			programID, p.MinerID, p.RewardIDs, p.ClaimerType,
			config, authority, storageToken, userToken, wallet, adminPub, entries,
		)}, nil

	case *InitializeNodePayload:
		config, err := b.deriver.ConfigAccount(programID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive config account", err)
		}
		nodeEntry, err := b.deriver.NodeEntry(p.MinerID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive node entry", err)
		}
		userToken, err := b.deriver.UserTokenAccount(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive user token account", err)
		}
		treasuryToken, err := b.TreasuryTokenAccount()
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive treasury token account", err)
		}
		return []solana.Instruction{
			chain.NewInitializeNFNodeInstruction(programID, p.MinerID, b.networkFee, nodeEntry, config, wallet, adminPub),
			token.NewTransferInstruction(b.networkFee, userToken, treasuryToken, wallet, nil).Build(),
		}, nil

	case *AddHostPayload:
		nodeEntry, err := b.deriver.NodeEntry(p.MinerID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive node entry", err)
		}
		return []solana.Instruction{chain.NewAddHostInstruction(programID, p.MinerID, p.HostID, nodeEntry, wallet, adminPub)}, nil

	case *UpdateRewardContractPayload:
		config, err := b.deriver.ConfigAccount(programID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive config account", err)
		}
		return []solana.Instruction{chain.NewUpdateRewardContractInstruction(programID, p.RewardPerEpoch, p.EpochLength, config, wallet, adminPub)}, nil

	case *InitializeStakePayload:
		stakeEntry, err := b.deriver.StakeEntry(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive stake entry", err)
		}
		return []solana.Instruction{chain.NewInitializeStakeInstruction(programID, stakeEntry, wallet, adminPub)}, nil

	case *VaultPayload:
		config, err := b.deriver.ConfigAccount(programID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive config account", err)
		}
		stakeEntry, err := b.deriver.StakeEntry(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive stake entry", err)
		}
		userToken, err := b.deriver.UserTokenAccount(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive user token account", err)
		}
		vaultToken, err := b.deriver.StakeVaultAccount()
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive vault token account", err)
		}
		var disc [8]byte
		switch p.Action() {
		case ActionStake:
			disc = chain.DiscStake
		case ActionWithdraw:
			disc = chain.DiscWithdraw
		default:
			disc = chain.DiscDeposit
		}
		return []solana.Instruction{chain.NewStakeVaultInstruction(
			programID, disc, p.Amount, config, stakeEntry, userToken, vaultToken, wallet, adminPub,
		)}, nil

	case *ClaimStakerRewardsPayload:
		config, err := b.deriver.ConfigAccount(programID)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive config account", err)
		}
		stakerEntry, err := b.deriver.StakerRewardsEntry(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive staker rewards entry", err)
		}
		vaultToken, err := b.deriver.AirdropVaultAccount()
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive vault token account", err)
		}
		userToken, err := b.deriver.UserTokenAccount(wallet)
		if err != nil {
			return nil, b.prepErr(p.Action(), "derive user token account", err)
		}
		return []solana.Instruction{chain.NewClaimDepinStakerRewardsInstruction(
			programID, p.RewardIDs, config, stakerEntry, vaultToken, userToken, wallet, adminPub,
		)}, nil

	default:
		return nil, payloadErr(fmt.Sprintf("unsupported action %q", payload.Action()))
	}
}

func (b *Builder) prepErr(action Action, step string, err error) error {
	return &NetworkError{
		Code:    CodeAccountsPreparation,
		Message: fmt.Sprintf("%s for %s: %v", step, action, err),
		Err:     err,
	}
}

func (b *Builder) signerFor(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(b.admin.PublicKey()) {
		return &b.admin
	}
	return nil
}
