package relayer

import (
	"context"
	"encoding/json"

	"github.com/msalopek/swap_relayer/settlement"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JsonAnnouncement is the wire form of a settlement announcement.
type JsonAnnouncement struct {
	Kind      string     `json:"kind"`
	OrderHash string     `json:"order_hash"`
	State     string     `json:"state"`
	Order     *JsonOrder `json:"order,omitempty"`
	Resolver  string     `json:"resolver,omitempty"`
	Secret    string     `json:"secret,omitempty"`
	At        uint64     `json:"at"`
}

func toJsonAnnouncement(a settlement.Announcement) JsonAnnouncement {
	out := JsonAnnouncement{
		Kind:      string(a.Kind),
		OrderHash: a.OrderHash.Hex(),
		State:     a.State.String(),
		Resolver:  a.Resolver,
		At:        a.At,
	}
	if a.Order != nil {
		o := fromOrder(*a.Order)
		out.Order = &o
	}
	if a.Secret != nil {
		out.Secret = a.Secret.String()
	}
	return out
}

// RedisBroadcaster publishes announcements to resolvers outside the process
// over a redis pub/sub channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *zerolog.Logger
}

func NewRedisBroadcaster(client *redis.Client, channel string, logger *zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel, logger: logger}
}

// NewRedisClient connects to url, a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (b *RedisBroadcaster) Publish(ctx context.Context, a settlement.Announcement) error {
	data, err := json.Marshal(toJsonAnnouncement(a))
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, string(data)).Err()
}

// SubscribeAnnouncements delivers announcements from channel to handler until
// ctx is done.
func SubscribeAnnouncements(ctx context.Context, client *redis.Client, channel string, logger *zerolog.Logger, handler func(JsonAnnouncement)) error {
	pubsub := client.Subscribe(ctx, channel)
	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var a JsonAnnouncement
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					logger.Error().Err(err).Msg("failed to unmarshal announcement")
					continue
				}
				handler(a)
			}
		}
	}()
	return nil
}
