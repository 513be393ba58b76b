package streams

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/model"
)

// RedisBridgeConfig contains the parameters for NewRedisBridge.
type RedisBridgeConfig struct {
	URL      string
	Password string
	TLS      bool
	Channel  string
	// InstanceID distinguishes this process's messages from those of other instances.
	InstanceID string
}

// RedisBridge relays revision announcements between instances over Redis pub/sub. Revisions committed
// locally are published to the channel; revisions published by other instances are announced to the
// local hub. The revision itself is always read from the store, so a lost message only delays an
// update until the next one.
type RedisBridge struct {
	client    redis.UniversalClient
	pubsub    *redis.PubSub
	channel   string
	origin    string
	hub       *RevisionHub
	loggers   ldlog.Loggers
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisBridge connects to Redis, subscribes to the channel and starts forwarding messages to the hub.
func NewRedisBridge(
	ctx context.Context,
	config RedisBridgeConfig,
	hub *RevisionHub,
	loggers ldlog.Loggers,
) (*RedisBridge, error) {
	parsed, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, err
	}
	opts := redis.UniversalOptions{
		Addrs:     []string{parsed.Addr},
		DB:        parsed.DB,
		Username:  parsed.Username,
		Password:  parsed.Password,
		TLSConfig: parsed.TLSConfig,
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12} //nolint:gosec
	}
	client := redis.NewUniversalClient(&opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	pubsub := client.Subscribe(ctx, config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, err
	}

	loggers.SetPrefix("RedisBridge:")
	b := &RedisBridge{
		client:  client,
		pubsub:  pubsub,
		channel: config.Channel,
		origin:  config.InstanceID,
		hub:     hub,
		loggers: loggers,
		done:    make(chan struct{}),
	}
	go b.receive()
	loggers.Infof("Listening for revision notifications on Redis channel %q", config.Channel)
	return b, nil
}

func (b *RedisBridge) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		origin, revision, ok := parseRevisionMessage(msg.Payload)
		if !ok {
			b.loggers.Warnf("Ignoring malformed revision notification: %q", msg.Payload)
			continue
		}
		if origin == b.origin {
			continue
		}
		b.loggers.Debugf("Revision %d announced by instance %s", revision, origin)
		b.hub.Publish(revision)
	}
}

// HandleEvents publishes the newest revision produced by a committed batch of events. It has the
// signature of services.EventListener.
func (b *RedisBridge) HandleEvents(ctx context.Context, events []model.Event) {
	var newest int64
	for _, e := range events {
		if e.Type.AdvancesRevision() && e.Revision > newest {
			newest = e.Revision
		}
	}
	if newest == 0 {
		return
	}
	if err := b.Announce(ctx, newest); err != nil {
		b.loggers.Warn(err)
	}
}

// Announce publishes a revision to the other instances.
func (b *RedisBridge) Announce(ctx context.Context, revision int64) error {
	if err := b.client.Publish(ctx, b.channel, formatRevisionMessage(b.origin, revision)).Err(); err != nil {
		return errRedisPublish(b.channel, err)
	}
	return nil
}

// Close unsubscribes and closes the Redis connection.
func (b *RedisBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		<-b.done
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func formatRevisionMessage(origin string, revision int64) string {
	return origin + " " + strconv.FormatInt(revision, 10)
}

func parseRevisionMessage(payload string) (origin string, revision int64, ok bool) {
	i := strings.LastIndexByte(payload, ' ')
	if i < 0 {
		return "", 0, false
	}
	rev, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil || rev <= 0 {
		return "", 0, false
	}
	return payload[:i], rev, true
}
