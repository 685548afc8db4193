package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction names as declared by the on-chain programs.
const (
	InsClaimRewards            = "claim_rewards"
	InsInitializeNFNode        = "initialize_nfnode"
	InsAddHost                 = "add_host"
	InsUpdateRewardContract    = "update_reward_contract"
	InsInitializeStake         = "initialize_stake"
	InsStake                   = "stake"
	InsWithdraw                = "withdraw"
	InsDeposit                 = "deposit"
	InsClaimDepinStakerRewards = "claim_depin_staker_rewards"
)

// InstructionDiscriminator derives the 8-byte anchor discriminator for a
// global instruction name.
func InstructionDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

var (
	DiscClaimRewards            = InstructionDiscriminator(InsClaimRewards)
	DiscInitializeNFNode        = InstructionDiscriminator(InsInitializeNFNode)
	DiscAddHost                 = InstructionDiscriminator(InsAddHost)
	DiscUpdateRewardContract    = InstructionDiscriminator(InsUpdateRewardContract)
	DiscInitializeStake         = InstructionDiscriminator(InsInitializeStake)
	DiscStake                   = InstructionDiscriminator(InsStake)
	DiscWithdraw                = InstructionDiscriminator(InsWithdraw)
	DiscDeposit                 = InstructionDiscriminator(InsDeposit)
	DiscClaimDepinStakerRewards = InstructionDiscriminator(InsClaimDepinStakerRewards)
)

// KnownInstructions maps each program to the instruction set the gateway
// emits, used for interface validation on client construction.
func KnownInstructions(reward, airdrop, stake solana.PublicKey) map[solana.PublicKey][]string {
	return map[solana.PublicKey][]string{
		reward:  {InsClaimRewards, InsInitializeNFNode, InsAddHost, InsUpdateRewardContract},
		airdrop: {InsClaimDepinStakerRewards},
		stake:   {InsInitializeStake, InsStake, InsWithdraw, InsDeposit},
	}
}

// NewClaimRewardsInstruction builds the reward program's claim instruction.
// Per-reward entry accounts are appended as writable remaining accounts in
// reward-id order.
func NewClaimRewardsInstruction(
	programID solana.PublicKey,
	minerID string,
	rewardIDs []uint64,
	claimerType uint8,
	config solana.PublicKey,
	storageAuthority solana.PublicKey,
	storageToken solana.PublicKey,
	userToken solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
	entries []solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscClaimRewards[:])
	writeString(data, minerID)
	writeU64Slice(data, rewardIDs)
	data.WriteByte(claimerType)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(config, false, false),
		solana.NewAccountMeta(storageAuthority, false, false),
		solana.NewAccountMeta(storageToken, true, false),
		solana.NewAccountMeta(userToken, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	for _, entry := range entries {
		accounts = append(accounts, solana.NewAccountMeta(entry, true, false))
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewInitializeNFNodeInstruction builds the node-initialization instruction.
func NewInitializeNFNodeInstruction(
	programID solana.PublicKey,
	minerID string,
	networkFee uint64,
	nodeEntry solana.PublicKey,
	config solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscInitializeNFNode[:])
	writeString(data, minerID)
	writeU64(data, networkFee)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(config, false, false),
		solana.NewAccountMeta(nodeEntry, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewAddHostInstruction registers a host under an existing node entry.
func NewAddHostInstruction(
	programID solana.PublicKey,
	minerID string,
	hostID string,
	nodeEntry solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscAddHost[:])
	writeString(data, minerID)
	writeString(data, hostID)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(nodeEntry, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewUpdateRewardContractInstruction updates the reward program's contract
// parameters.
func NewUpdateRewardContractInstruction(
	programID solana.PublicKey,
	rewardPerEpoch uint64,
	epochLength uint64,
	config solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscUpdateRewardContract[:])
	writeU64(data, rewardPerEpoch)
	writeU64(data, epochLength)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(config, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewInitializeStakeInstruction creates the wallet's stake entry account.
func NewInitializeStakeInstruction(
	programID solana.PublicKey,
	stakeEntry solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscInitializeStake[:])

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(stakeEntry, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewStakeVaultInstruction builds stake, withdraw and deposit instructions,
// which share one account shape and differ only in discriminator and amount.
func NewStakeVaultInstruction(
	programID solana.PublicKey,
	disc [8]byte,
	amount uint64,
	config solana.PublicKey,
	stakeEntry solana.PublicKey,
	userToken solana.PublicKey,
	vaultToken solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(disc[:])
	writeU64(data, amount)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(config, false, false),
		solana.NewAccountMeta(stakeEntry, true, false),
		solana.NewAccountMeta(userToken, true, false),
		solana.NewAccountMeta(vaultToken, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// NewClaimDepinStakerRewardsInstruction builds the airdrop program's staker
// reward claim.
func NewClaimDepinStakerRewardsInstruction(
	programID solana.PublicKey,
	rewardIDs []uint64,
	config solana.PublicKey,
	stakerEntry solana.PublicKey,
	vaultToken solana.PublicKey,
	userToken solana.PublicKey,
	wallet solana.PublicKey,
	admin solana.PublicKey,
) solana.Instruction {
	data := new(bytes.Buffer)
	data.Write(DiscClaimDepinStakerRewards[:])
	writeU64Slice(data, rewardIDs)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(config, false, false),
		solana.NewAccountMeta(stakerEntry, true, false),
		solana.NewAccountMeta(vaultToken, true, false),
		solana.NewAccountMeta(userToken, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(admin, false, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data.Bytes())
}

// DecodeClaimRewardsArgs parses the claim_rewards instruction data back into
// its arguments. Used during co-signing to check the claim a user presents
// against the authorization ledger.
func DecodeClaimRewardsArgs(data []byte) (minerID string, rewardIDs []uint64, claimerType uint8, err error) {
	r := &reader{data: data}
	if !r.skipDiscriminator(DiscClaimRewards) {
		return "", nil, 0, fmt.Errorf("not a claim_rewards instruction")
	}
	minerID = r.readString()
	rewardIDs = r.readU64Slice()
	claimerType = r.readByte()
	if r.err != nil {
		return "", nil, 0, fmt.Errorf("decode claim_rewards args: %w", r.err)
	}
	return minerID, rewardIDs, claimerType, nil
}

// DecodeAddHostArgs parses the add_host instruction data back into its miner
// and host ids.
func DecodeAddHostArgs(data []byte) (minerID, hostID string, err error) {
	r := &reader{data: data}
	if !r.skipDiscriminator(DiscAddHost) {
		return "", "", fmt.Errorf("not an add_host instruction")
	}
	minerID = r.readString()
	hostID = r.readString()
	if r.err != nil {
		return "", "", fmt.Errorf("decode add_host args: %w", r.err)
	}
	return minerID, hostID, nil
}

// DecodeStakerRewardsArgs parses claim_depin_staker_rewards instruction data.
func DecodeStakerRewardsArgs(data []byte) ([]uint64, error) {
	r := &reader{data: data}
	if !r.skipDiscriminator(DiscClaimDepinStakerRewards) {
		return nil, fmt.Errorf("not a claim_depin_staker_rewards instruction")
	}
	ids := r.readU64Slice()
	if r.err != nil {
		return nil, fmt.Errorf("decode staker reward args: %w", r.err)
	}
	return ids, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

func writeU64Slice(buf *bytes.Buffer, vs []uint64) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(vs)))
	buf.Write(b[:])
	for _, v := range vs {
		writeU64(buf, v)
	}
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) skipDiscriminator(disc [8]byte) bool {
	if len(r.data) < 8 || !bytes.Equal(r.data[:8], disc[:]) {
		return false
	}
	r.pos = 8
	return true
}

func (r *reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos+1 > len(r.data) {
		r.err = fmt.Errorf("truncated at byte %d", r.pos)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) readU32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.data) {
		r.err = fmt.Errorf("truncated at byte %d", r.pos)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) readU64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.err = fmt.Errorf("truncated at byte %d", r.pos)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) readString() string {
	n := int(r.readU32())
	if r.err != nil {
		return ""
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("truncated string at byte %d", r.pos)
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) readU64Slice() []uint64 {
	n := int(r.readU32())
	if r.err != nil {
		return nil
	}
	// The length prefix is attacker-controlled; never allocate past what the
	// remaining bytes can actually hold.
	if n > (len(r.data)-r.pos)/8 {
		r.err = fmt.Errorf("declared %d elements but only %d bytes remain", n, len(r.data)-r.pos)
		return nil
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.readU64())
		if r.err != nil {
			return nil
		}
	}
	return out
}
