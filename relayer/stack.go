package relayer

import (
	"context"
	"database/sql"

	"github.com/msalopek/swap_relayer/escrow"
	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/simchain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stack is a relayer wired to the in-memory chains, with the redis
// broadcaster attached when configured.
type Stack struct {
	Relayer *Relayer
	Hub     *settlement.Hub
	Chain   *simchain.Chain
	Redis   *redis.Client
}

func NewStack(ctx context.Context, db *sql.DB, cfg *Config, logger *zerolog.Logger) (*Stack, error) {
	src := escrow.NewLedger(escrow.Source, logger)
	dst := escrow.NewLedger(escrow.Destination, logger)
	chain := simchain.New(logger, cfg.Source.ChainID, cfg.Destination.ChainID)
	hub := settlement.NewHub(64, logger)

	stack := &Stack{Hub: hub, Chain: chain}
	broadcasters := settlement.Broadcasters{hub}
	if cfg.Redis.URL != "" {
		client, err := NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable - announcements stay in process")
			client.Close()
		} else {
			stack.Redis = client
			broadcasters = append(broadcasters, NewRedisBroadcaster(client, cfg.Redis.Channel, logger))
		}
	}

	var clock Clock = SystemClock{}
	if cfg.Source.ApiUrl != "" {
		clock = NewChainClock(cfg.Source.ApiUrl, logger)
	}

	coord := settlement.NewCoordinator(cfg.Settlement(), src, dst, chain, broadcasters, logger)
	r, err := NewRelayer(db, cfg, coord, simchain.NewDeployer(chain, src, dst), broadcasters, clock, logger)
	if err != nil {
		stack.Close()
		return nil, err
	}
	stack.Relayer = r
	return stack, nil
}

func (s *Stack) Close() error {
	if s.Redis != nil {
		return s.Redis.Close()
	}
	return nil
}
