package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeriver(t *testing.T) *Deriver {
	t.Helper()
	return &Deriver{
		RewardProgram:  solana.NewWallet().PublicKey(),
		AirdropProgram: solana.NewWallet().PublicKey(),
		StakeProgram:   solana.NewWallet().PublicKey(),
		Mint:           solana.NewWallet().PublicKey(),
	}
}

func TestDeriverDeterministic(t *testing.T) {
	d := testDeriver(t)
	wallet := solana.NewWallet().PublicKey()

	first, err := d.RewardEntry(wallet, 42)
	require.NoError(t, err)
	second, err := d.RewardEntry(wallet, 42)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := d.RewardEntry(wallet, 43)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestDeriverDistinctSeeds(t *testing.T) {
	d := testDeriver(t)
	wallet := solana.NewWallet().PublicKey()

	config, err := d.ConfigAccount(d.RewardProgram)
	require.NoError(t, err)
	authority, err := d.TokenStorageAuthority()
	require.NoError(t, err)
	stakeEntry, err := d.StakeEntry(wallet)
	require.NoError(t, err)
	stakerRewards, err := d.StakerRewardsEntry(wallet)
	require.NoError(t, err)

	seen := map[solana.PublicKey]bool{}
	for _, pk := range []solana.PublicKey{config, authority, stakeEntry, stakerRewards} {
		assert.False(t, seen[pk], "derived addresses must not collide")
		seen[pk] = true
	}
}

func TestDeriverNodeEntryPerMiner(t *testing.T) {
	d := testDeriver(t)

	a, err := d.NodeEntry("miner-a")
	require.NoError(t, err)
	b, err := d.NodeEntry("miner-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriverVaultsPerProgram(t *testing.T) {
	d := testDeriver(t)

	stakeVault, err := d.StakeVaultAccount()
	require.NoError(t, err)
	airdropVault, err := d.AirdropVaultAccount()
	require.NoError(t, err)
	assert.NotEqual(t, stakeVault, airdropVault)
}

func TestDeriverTokenAccountsFollowOwner(t *testing.T) {
	d := testDeriver(t)
	w1 := solana.NewWallet().PublicKey()
	w2 := solana.NewWallet().PublicKey()

	a, err := d.UserTokenAccount(w1)
	require.NoError(t, err)
	b, err := d.UserTokenAccount(w2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	again, err := d.UserTokenAccount(w1)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}
