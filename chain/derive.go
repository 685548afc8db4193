package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed prefixes of the program-owned accounts. These mirror the on-chain
// program sources and must never change.
var (
	seedConfig           = []byte("config")
	seedStorageAuthority = []byte("token_storage_authority")
	seedRewardEntry      = []byte("reward_entry")
	seedNodeEntry        = []byte("nfnode_entry")
	seedStakeEntry       = []byte("stake_entry")
	seedStakerRewards    = []byte("staker_rewards")
)

// Deriver computes deterministic program-owned addresses. It is pure: the
// same inputs always produce byte-identical addresses, and no I/O happens
// beyond reading the owning program ids it was constructed with.
type Deriver struct {
	RewardProgram  solana.PublicKey
	AirdropProgram solana.PublicKey
	StakeProgram   solana.PublicKey
	Mint           solana.PublicKey
}

// ConfigAccount returns the admin/config PDA of the given program.
func (d *Deriver) ConfigAccount(program solana.PublicKey) (solana.PublicKey, error) {
	return d.find(program, seedConfig)
}

// TokenStorageAuthority returns the PDA that owns the reward program's token
// storage account.
func (d *Deriver) TokenStorageAuthority() (solana.PublicKey, error) {
	return d.find(d.RewardProgram, seedStorageAuthority)
}

// TokenStorageAccount returns the associated token account holding the reward
// mint balance owned by the storage authority.
func (d *Deriver) TokenStorageAccount() (solana.PublicKey, error) {
	authority, err := d.TokenStorageAuthority()
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(authority, d.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive storage token account: %w", err)
	}
	return ata, nil
}

// UserTokenAccount returns the wallet's associated token account for the
// reward mint.
func (d *Deriver) UserTokenAccount(wallet solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, d.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive user token account: %w", err)
	}
	return ata, nil
}

// RewardEntry returns the per-reward-epoch entry account for a wallet.
func (d *Deriver) RewardEntry(wallet solana.PublicKey, rewardID uint64) (solana.PublicKey, error) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], rewardID)
	return d.find(d.RewardProgram, seedRewardEntry, wallet.Bytes(), id[:])
}

// NodeEntry returns the per-node entry account keyed by miner id.
func (d *Deriver) NodeEntry(minerID string) (solana.PublicKey, error) {
	return d.find(d.RewardProgram, seedNodeEntry, []byte(minerID))
}

// StakeEntry returns the wallet's stake entry account.
func (d *Deriver) StakeEntry(wallet solana.PublicKey) (solana.PublicKey, error) {
	return d.find(d.StakeProgram, seedStakeEntry, wallet.Bytes())
}

// StakeVaultAccount returns the stake program's token vault, the associated
// token account owned by its config PDA.
func (d *Deriver) StakeVaultAccount() (solana.PublicKey, error) {
	return d.vaultFor(d.StakeProgram)
}

// AirdropVaultAccount returns the airdrop program's token vault.
func (d *Deriver) AirdropVaultAccount() (solana.PublicKey, error) {
	return d.vaultFor(d.AirdropProgram)
}

func (d *Deriver) vaultFor(program solana.PublicKey) (solana.PublicKey, error) {
	authority, err := d.ConfigAccount(program)
	if err != nil {
		return solana.PublicKey{}, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(authority, d.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive vault token account: %w", err)
	}
	return ata, nil
}

// StakerRewardsEntry returns the wallet's depin-staker rewards account on the
// airdrop program.
func (d *Deriver) StakerRewardsEntry(wallet solana.PublicKey) (solana.PublicKey, error) {
	return d.find(d.AirdropProgram, seedStakerRewards, wallet.Bytes())
}

func (d *Deriver) find(program solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive program address: %w", err)
	}
	return addr, nil
}
