package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix はチャネル名の既定の接頭辞。
const DefaultChannelPrefix = "recruitman:user:"

// RedisFeed はRedis pub/sub上のPublisherとSubscriber。
// チャネルは利用者ごとに <prefix><userID> を使う。
type RedisFeed struct {
	rdb    *goredis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisFeed はREDIS_URL形式のURLから接続し、疎通を確認する。
func NewRedisFeed(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*RedisFeed, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisFeed{rdb: rdb, prefix: prefix, logger: logger}, nil
}

// Channel は利用者のチャネル名を返す。
func (f *RedisFeed) Channel(userID string) string {
	return f.prefix + userID
}

// Publish はイベントを利用者のチャネルに発行する。
func (f *RedisFeed) Publish(ctx context.Context, userID string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.Channel(userID), raw).Err()
}

// Subscribe は利用者のチャネルを購読する。
func (f *RedisFeed) Subscribe(ctx context.Context, userID string) (<-chan Event, func(), error) {
	sub := f.rdb.Subscribe(ctx, f.Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					f.logger.Warn("不正なリアルタイムイベントを破棄しました",
						slog.String("channel", m.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Ping はRedisへの疎通を確認する。
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.rdb.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (f *RedisFeed) Close() error {
	return f.rdb.Close()
}

var (
	_ Publisher  = (*RedisFeed)(nil)
	_ Subscriber = (*RedisFeed)(nil)
)
