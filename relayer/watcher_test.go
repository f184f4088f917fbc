package relayer

import (
	"os"
	"testing"

	"github.com/holiman/uint256"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(env *testEnv) *Watcher {
	logger := zerolog.New(os.Stdout)
	return NewWatcher(env.relayer, 2, &logger)
}

func TestWatcherLocksFilledOrders(t *testing.T) {
	env := newTestEnv(t)
	w := newTestWatcher(env)
	h := env.create(t)

	env.clock.Set(1_000)
	env.fill(t, h, "r1", 60_000_000)
	require.NoError(t, w.Scan(ctx))
	s, err := env.relayer.Swap(h)
	require.NoError(t, err)
	assert.Equal(t, settlement.EscrowsDeployed, s.State)

	// a partial fill frees the commitment slot
	env.clock.Set(1_010)
	env.fill(t, h, "r2", 40_000_000)
	require.NoError(t, w.Scan(ctx))

	s, err = env.relayer.Swap(h)
	require.NoError(t, err)
	assert.Equal(t, settlement.FundsLocked, s.State)
}

func TestWatcherCancelsExpiredOrders(t *testing.T) {
	env := newTestEnv(t)
	w := newTestWatcher(env)
	h := env.create(t)

	require.NoError(t, w.Scan(ctx))
	s, err := env.relayer.Swap(h)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, s.State)

	env.clock.Set(5_000)
	require.NoError(t, w.Scan(ctx))
	s, err = env.relayer.Swap(h)
	require.NoError(t, err)
	assert.Equal(t, settlement.Cancelled, s.State)

	events, err := ReadSwapEvents(env.db, h.Hex())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, env.relayer.cfg.Address, events[0].Actor)
}

func TestWatcherAnnouncesRescueOnce(t *testing.T) {
	env := newTestEnv(t)
	w := newTestWatcher(env)
	h := env.create(t)

	sub, unsubscribe := env.hub.Subscribe()
	defer unsubscribe()

	env.clock.Set(1_000)
	_, err := env.relayer.Commit(ctx, h, settlement.CommitRequest{Resolver: "r1", Price: 1_000_000, Deposit: uint256.NewInt(1_000_000)})
	require.NoError(t, err)

	env.clock.Set(1_060)
	require.NoError(t, w.Scan(ctx))
	assert.Zero(t, testutil.ToFloat64(env.relayer.metrics.announced))

	env.clock.Set(1_061)
	require.NoError(t, w.Scan(ctx))
	require.NoError(t, w.Scan(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.relayer.metrics.announced))

	// the hub delivers synchronously into the buffer
	rescues := 0
drain:
	for {
		select {
		case a := <-sub:
			if a.Kind == settlement.AnnounceRescueAvailable {
				rescues++
				assert.Equal(t, h, a.OrderHash)
				assert.Equal(t, "r1", a.Resolver)
			}
		default:
			break drain
		}
	}
	assert.Equal(t, 1, rescues)

	// a finished order is forgotten on the next scan
	require.Len(t, w.announced, 1)
	require.NoError(t, env.relayer.Rescue(ctx, h, "rescuer", uint256.NewInt(1_000_000), 0, env.secret))
	require.NoError(t, w.Scan(ctx))
	assert.Empty(t, w.announced)
}
