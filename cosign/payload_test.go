package cosign

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionRejectsUnknown(t *testing.T) {
	_, err := ParseAction("drain-wallet")
	requireCode(t, err, CodePayloadInvalid)

	action, err := ParseAction("claim-rewards")
	require.NoError(t, err)
	assert.Equal(t, ActionClaimRewards, action)
}

func TestParsePayloadValidates(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()

	cases := []struct {
		name   string
		action Action
		body   string
		ok     bool
	}{
		{"valid claim", ActionClaimRewards, `{"walletAddress":"` + wallet + `","minerId":"m1","rewardIds":[1]}`, true},
		{"claim without rewards", ActionClaimRewards, `{"walletAddress":"` + wallet + `","minerId":"m1"}`, false},
		{"bad wallet", ActionInitializeNode, `{"walletAddress":"zzz","minerId":"m1"}`, false},
		{"stake zero amount", ActionStake, `{"walletAddress":"` + wallet + `","amount":0}`, false},
		{"valid withdraw", ActionWithdraw, `{"walletAddress":"` + wallet + `","amount":50}`, true},
		{"malformed json", ActionDeposit, `{"walletAddress":`, false},
		{"host missing", ActionAddHost, `{"walletAddress":"` + wallet + `","minerId":"m1"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePayload(tc.action, []byte(tc.body))
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.action, p.Action())
				assert.Equal(t, wallet, p.Wallet())
			} else {
				requireCode(t, err, CodePayloadInvalid)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()
	original := &VaultPayload{action: ActionDeposit, WalletAddress: wallet, Amount: 77, Nonce: 123}

	raw, err := EncodeEnvelope(original)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)
	deposit, ok := parsed.(*VaultPayload)
	require.True(t, ok)
	assert.Equal(t, ActionDeposit, deposit.Action())
	assert.Equal(t, uint64(77), deposit.Amount)
	assert.Equal(t, int64(123), deposit.RequestNonce())
}

func TestParseEnvelopeRequiresDiscriminant(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"walletAddress":"abc"}`))
	requireCode(t, err, CodePayloadInvalid)
}
