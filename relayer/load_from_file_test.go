package relayer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOrders(t *testing.T, file OrdersFile) string {
	t.Helper()
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "orders.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	env := newTestEnv(t)

	second := env.order
	second.Salt = uint256.NewInt(2)
	expired := env.order
	expired.Salt = uint256.NewInt(3)
	expired.Deadline = 800
	invalid := env.order
	invalid.Salt = uint256.NewInt(4)
	invalid.Maker = ""

	path := writeOrders(t, OrdersFile{Orders: []JsonOrder{
		fromOrder(env.order),
		fromOrder(second),
		fromOrder(env.order),
		fromOrder(expired),
		fromOrder(invalid),
	}})

	loaded, skipped, err := env.relayer.LoadFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 3, skipped)

	orders, err := ReadOrders(env.db, "pending")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	// loading again only skips
	loaded, skipped, err = env.relayer.LoadFromFile(ctx, path)
	require.NoError(t, err)
	assert.Zero(t, loaded)
	assert.Equal(t, 5, skipped)
}

func TestOrdersFromFileErrors(t *testing.T) {
	_, err := OrdersFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"orders": [`), 0o644))
	_, err = OrdersFromFile(path)
	assert.Error(t, err)

	path = writeOrders(t, OrdersFile{Orders: []JsonOrder{{MakingAmount: "1", TakingAmount: "1", Hashlock: "0x12"}}})
	_, err = OrdersFromFile(path)
	assert.ErrorContains(t, err, "order 0")

	path = writeOrders(t, OrdersFile{})
	orders, err := OrdersFromFile(path)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
