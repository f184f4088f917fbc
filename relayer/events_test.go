package relayer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJsonAnnouncement(t *testing.T) {
	env := newTestEnv(t)
	h := env.order.Hash()

	created := toJsonAnnouncement(settlement.Announcement{
		Kind:      settlement.AnnounceOrderCreated,
		OrderHash: h,
		State:     settlement.Pending,
		Order:     &env.order,
		At:        900,
	})
	assert.Equal(t, "order_created", created.Kind)
	assert.Equal(t, h.Hex(), created.OrderHash)
	assert.Equal(t, "pending", created.State)
	require.NotNil(t, created.Order)
	assert.Equal(t, "100000000", created.Order.MakingAmount)
	assert.Empty(t, created.Secret)

	revealed := toJsonAnnouncement(settlement.Announcement{
		Kind:      settlement.AnnounceSecretRevealed,
		OrderHash: h,
		State:     settlement.FundsLocked,
		Secret:    &env.secret,
		At:        1_020,
	})
	assert.Nil(t, revealed.Order)
	assert.Equal(t, env.secret.String(), revealed.Secret)

	// resolvers outside the process recover the order and the secret
	raw, err := json.Marshal(created)
	require.NoError(t, err)
	var decoded JsonAnnouncement
	require.NoError(t, json.Unmarshal(raw, &decoded))
	o, err := decoded.Order.ToOrder()
	require.NoError(t, err)
	assert.Equal(t, h, o.Hash())

	secret, err := swap.ParseSecret(revealed.Secret)
	require.NoError(t, err)
	assert.Equal(t, env.order.Hashlock, secret.Hashlock())
}

type recordingBroadcaster struct {
	got []settlement.Announcement
}

func (b *recordingBroadcaster) Publish(_ context.Context, a settlement.Announcement) error {
	b.got = append(b.got, a)
	return nil
}

func TestBroadcastersFanOut(t *testing.T) {
	first, second := &recordingBroadcaster{}, &recordingBroadcaster{}
	bs := settlement.Broadcasters{first, second}

	a := settlement.Announcement{Kind: settlement.AnnounceCancelled, OrderHash: swap.HexToHash("0x01"), Resolver: "anyone"}
	require.NoError(t, bs.Publish(context.Background(), a))
	assert.Equal(t, []settlement.Announcement{a}, first.got)
	assert.Equal(t, []settlement.Announcement{a}, second.got)
}

func TestTypesParse(t *testing.T) {
	v, err := parseAmount("", true)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = parseAmount("", false)
	assert.Error(t, err)

	v, err = parseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935", false)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).SetAllOne(), v)

	_, err = parseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639936", false)
	assert.Error(t, err)

	_, err = parseHash("0x1234")
	assert.Error(t, err)
	_, err = parseHash("1234")
	assert.Error(t, err)
}
