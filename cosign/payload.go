package cosign

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Action identifies a prepare/co-sign flow.
type Action string

const (
	ActionClaimRewards         Action = "claim-rewards"
	ActionInitializeNode       Action = "initialize-nfnode"
	ActionAddHost              Action = "add-host"
	ActionUpdateRewardContract Action = "update-reward-contract"
	ActionInitializeStake      Action = "initialize-stake"
	ActionStake                Action = "stake"
	ActionWithdraw             Action = "withdraw"
	ActionDeposit              Action = "deposit"
	ActionClaimStakerRewards   Action = "claim-depin-staker-rewards"
)

// ParseAction maps a wire string to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionClaimRewards, ActionInitializeNode, ActionAddHost,
		ActionUpdateRewardContract, ActionInitializeStake,
		ActionStake, ActionWithdraw, ActionDeposit, ActionClaimStakerRewards:
		return a, nil
	default:
		return "", &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("unknown action %q", s)}
	}
}

// Payload is one variant of the action payload union. The variant is selected
// by the explicit action discriminant, never inferred from the JSON shape.
type Payload interface {
	Action() Action
	Wallet() string
	RequestNonce() int64
	Validate() error
}

// ClaimRewardsPayload requests settlement of ready reward epochs.
type ClaimRewardsPayload struct {
	WalletAddress string   `json:"walletAddress"`
	MinerID       string   `json:"minerId"`
	RewardIDs     []uint64 `json:"rewardIds"`
	ClaimerType   uint8    `json:"claimerType"`
	Nonce         int64    `json:"nonce,omitempty"`
}

func (p *ClaimRewardsPayload) Action() Action { return ActionClaimRewards }
func (p *ClaimRewardsPayload) Wallet() string { return p.WalletAddress }
func (p *ClaimRewardsPayload) RequestNonce() int64 { return p.Nonce }
func (p *ClaimRewardsPayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if p.MinerID == "" {
		return payloadErr("minerId is required")
	}
	if len(p.RewardIDs) == 0 {
		return payloadErr("rewardIds must not be empty")
	}
	return nil
}

// InitializeNodePayload registers a new node entry on chain.
type InitializeNodePayload struct {
	WalletAddress string `json:"walletAddress"`
	MinerID       string `json:"minerId"`
	Nonce         int64  `json:"nonce,omitempty"`
}

func (p *InitializeNodePayload) Action() Action { return ActionInitializeNode }
func (p *InitializeNodePayload) Wallet() string { return p.WalletAddress }
func (p *InitializeNodePayload) RequestNonce() int64 { return p.Nonce }
func (p *InitializeNodePayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if p.MinerID == "" {
		return payloadErr("minerId is required")
	}
	return nil
}

// AddHostPayload attaches a host to an existing node entry.
type AddHostPayload struct {
	WalletAddress string `json:"walletAddress"`
	MinerID       string `json:"minerId"`
	HostID        string `json:"hostId"`
	Nonce         int64  `json:"nonce,omitempty"`
}

func (p *AddHostPayload) Action() Action { return ActionAddHost }
func (p *AddHostPayload) Wallet() string { return p.WalletAddress }
func (p *AddHostPayload) RequestNonce() int64 { return p.Nonce }
func (p *AddHostPayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if p.MinerID == "" {
		return payloadErr("minerId is required")
	}
	if p.HostID == "" {
		return payloadErr("hostId is required")
	}
	return nil
}

// UpdateRewardContractPayload changes reward contract parameters.
type UpdateRewardContractPayload struct {
	WalletAddress  string `json:"walletAddress"`
	RewardPerEpoch uint64 `json:"rewardPerEpoch"`
	EpochLength    uint64 `json:"epochLength"`
	Nonce          int64  `json:"nonce,omitempty"`
}

func (p *UpdateRewardContractPayload) Action() Action { return ActionUpdateRewardContract }
func (p *UpdateRewardContractPayload) Wallet() string { return p.WalletAddress }
func (p *UpdateRewardContractPayload) RequestNonce() int64 { return p.Nonce }
func (p *UpdateRewardContractPayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if p.EpochLength == 0 {
		return payloadErr("epochLength must be positive")
	}
	return nil
}

// InitializeStakePayload creates the wallet's stake entry.
type InitializeStakePayload struct {
	WalletAddress string `json:"walletAddress"`
	Nonce         int64  `json:"nonce,omitempty"`
}

func (p *InitializeStakePayload) Action() Action { return ActionInitializeStake }
func (p *InitializeStakePayload) Wallet() string { return p.WalletAddress }
func (p *InitializeStakePayload) RequestNonce() int64 { return p.Nonce }
func (p *InitializeStakePayload) Validate() error {
	return checkWallet(p.WalletAddress)
}

// VaultPayload covers the stake, withdraw and deposit flows, which share one
// shape and differ only in direction.
type VaultPayload struct {
	action        Action
	WalletAddress string `json:"walletAddress"`
	Amount        uint64 `json:"amount"`
	Nonce         int64  `json:"nonce,omitempty"`
}

func (p *VaultPayload) Action() Action { return p.action }
func (p *VaultPayload) Wallet() string { return p.WalletAddress }
func (p *VaultPayload) RequestNonce() int64 { return p.Nonce }
func (p *VaultPayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if p.Amount == 0 {
		return payloadErr("amount must be positive")
	}
	return nil
}

// ClaimStakerRewardsPayload claims depin-staker rewards from the airdrop
// program.
type ClaimStakerRewardsPayload struct {
	WalletAddress string   `json:"walletAddress"`
	RewardIDs     []uint64 `json:"rewardIds"`
	Nonce         int64    `json:"nonce,omitempty"`
}

func (p *ClaimStakerRewardsPayload) Action() Action { return ActionClaimStakerRewards }
func (p *ClaimStakerRewardsPayload) Wallet() string { return p.WalletAddress }
func (p *ClaimStakerRewardsPayload) RequestNonce() int64 { return p.Nonce }
func (p *ClaimStakerRewardsPayload) Validate() error {
	if err := checkWallet(p.WalletAddress); err != nil {
		return err
	}
	if len(p.RewardIDs) == 0 {
		return payloadErr("rewardIds must not be empty")
	}
	return nil
}

// ParsePayload decodes raw JSON as the variant for action and validates it.
func ParsePayload(action Action, raw []byte) (Payload, error) {
	var p Payload
	switch action {
	case ActionClaimRewards:
		p = &ClaimRewardsPayload{}
	case ActionInitializeNode:
		p = &InitializeNodePayload{}
	case ActionAddHost:
		p = &AddHostPayload{}
	case ActionUpdateRewardContract:
		p = &UpdateRewardContractPayload{}
	case ActionInitializeStake:
		p = &InitializeStakePayload{}
	case ActionStake, ActionWithdraw, ActionDeposit:
		p = &VaultPayload{action: action}
	case ActionClaimStakerRewards:
		p = &ClaimStakerRewardsPayload{}
	default:
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("unknown action %q", action)}
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("malformed %s payload: %v", action, err)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseEnvelope decodes a self-describing payload carrying its own action
// discriminant, the form embedded in action messages.
func ParseEnvelope(raw []byte) (Payload, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &ValidationError{Code: CodePayloadInvalid, Message: fmt.Sprintf("malformed payload envelope: %v", err)}
	}
	action, err := ParseAction(head.Action)
	if err != nil {
		return nil, err
	}
	return ParsePayload(action, raw)
}

// EncodeEnvelope serializes a payload together with its action discriminant.
func EncodeEnvelope(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	// Splice the discriminant in front of the variant's own fields.
	out := []byte(fmt.Sprintf(`{"action":%q,`, p.Action()))
	if len(body) <= 2 {
		return append(out[:len(out)-1], '}'), nil
	}
	return append(out, body[1:]...), nil
}

func checkWallet(addr string) error {
	if addr == "" {
		return payloadErr("walletAddress is required")
	}
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		return payloadErr(fmt.Sprintf("walletAddress is not a valid public key: %v", err))
	}
	return nil
}

func payloadErr(msg string) error {
	return &ValidationError{Code: CodePayloadInvalid, Message: msg}
}
