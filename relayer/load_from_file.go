package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/msalopek/swap_relayer/swap"
	"github.com/msalopek/swap_relayer/swaperr"
)

// OrdersFile is the layout of an orders file: {"orders": [...]}.
type OrdersFile struct {
	Orders []JsonOrder `json:"orders"`
}

func OrdersFromFile(path string) ([]swap.Order, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file OrdersFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	orders := make([]swap.Order, 0, len(file.Orders))
	for i, j := range file.Orders {
		o, err := j.ToOrder()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// LoadFromFile submits every order in the file. Orders already known or
// already expired are skipped; any other rejection is logged and the rest of
// the file is still loaded.
func (r *Relayer) LoadFromFile(ctx context.Context, path string) (loaded, skipped int, err error) {
	r.logger.Info().Str("file", path).Msg("loading orders from file")
	orders, err := OrdersFromFile(path)
	if err != nil {
		return 0, 0, err
	}
	if len(orders) == 0 {
		r.logger.Info().Msg("no orders in file")
		return 0, 0, nil
	}

	for i, o := range orders {
		h, err := r.CreateOrder(ctx, o)
		switch {
		case err == nil:
			loaded++
		case errors.Is(err, swaperr.ErrDuplicateOrder), errors.Is(err, swaperr.ErrOrderExpired):
			r.logger.Debug().Err(err).Int("index", i).Stringer("order", h).Msg("skipping order")
			skipped++
		default:
			r.logger.Error().Err(err).Int("index", i).Str("maker", o.Maker).Msg("failed to load order")
			skipped++
		}
	}
	r.logger.Info().Int("loaded", loaded).Int("skipped", skipped).Msg("loaded orders from file")
	return loaded, skipped, nil
}
