package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/chat-relay/internal/bridge"
	"github.com/weiawesome/chat-relay/internal/broker"
	"github.com/weiawesome/chat-relay/internal/config"
	"github.com/weiawesome/chat-relay/internal/coordinator"
	"github.com/weiawesome/chat-relay/internal/deadletter"
	"github.com/weiawesome/chat-relay/internal/fanout"
	"github.com/weiawesome/chat-relay/internal/identity"
	"github.com/weiawesome/chat-relay/internal/idgen"
	"github.com/weiawesome/chat-relay/internal/logstore"
	"github.com/weiawesome/chat-relay/internal/presence"
	"github.com/weiawesome/chat-relay/internal/room"
	"github.com/weiawesome/chat-relay/pkg/database"
	"github.com/weiawesome/chat-relay/pkg/log"
	"github.com/weiawesome/chat-relay/pkg/pubsub"
	"gorm.io/gorm"
)

// App holds the components of one relay process.
type App struct {
	cfg *config.Config

	db    *gorm.DB
	redis *redis.Client
	bus   pubsub.PubSub

	mem      *broker.Memory
	producer broker.Producer
	store    logstore.Store
	sink     deadletter.Sink

	hub       *fanout.Hub
	cluster   *fanout.Cluster
	forwarder bridge.Forwarder

	Identity    *identity.JWTManager
	Rooms       *room.Service
	Coordinator *coordinator.Coordinator
	Bridge      *bridge.Bridge

	closers []func() error
}

func (a *App) needsRedis() bool {
	cfg := a.cfg
	return cfg.LogStore.Cache.Enabled ||
		cfg.Bridge.Dedup.Enabled ||
		cfg.Fanout.Cluster.Enabled ||
		cfg.Relay.Presence.Enabled ||
		cfg.Rooms.Cache.Enabled
}

// New opens every shared dependency. Close releases them in reverse order.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	l := log.L()
	cfg := a.cfg

	if cfg.Identity.Secret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		cfg.Identity.Secret = hex.EncodeToString(secret)
		l.Warn().Msg("identity.secret not set, using an ephemeral secret")
	}
	jwtManager, err := identity.NewJWTManager(cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to init identity: %w", err)
	}
	a.Identity = jwtManager

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() error { return database.Close(db) })
	l.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	if a.needsRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		l.Info().Str("address", cfg.Redis.Address).Msg("redis connected")
	}

	ids, err := idgen.New(cfg.Relay.IDGenerator, cfg.Relay.MachineID, cfg.Relay.Epoch)
	if err != nil {
		return err
	}

	var historyCache logstore.HistoryCache
	if cfg.LogStore.Cache.Enabled {
		historyCache = logstore.NewRedisHistoryCache(a.redis, cfg.LogStore.Cache.Prefix)
	}
	store, err := logstore.Open(cfg.LogStore, ids, a.db, historyCache)
	if err != nil {
		return fmt.Errorf("failed to open log store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	l.Info().Str("driver", cfg.LogStore.Driver).Msg("log store opened")

	if cfg.Broker.Driver == "" || cfg.Broker.Driver == "memory" {
		a.mem = broker.NewMemory(cfg.Broker.Kafka.Topic, cfg.Broker.Memory.Partitions)
		a.closers = append(a.closers, a.mem.Close)
	}

	ensure := []string{}
	if cfg.DeadLetter.Driver == "kafka" {
		ensure = append(ensure, cfg.DeadLetter.Topic)
	}
	producer, err := broker.OpenProducer(cfg.Broker, a.mem, ensure...)
	if err != nil {
		return fmt.Errorf("failed to open broker producer: %w", err)
	}
	a.producer = producer
	if a.mem == nil {
		a.closers = append(a.closers, producer.Close)
	}
	l.Info().Str("driver", cfg.Broker.Driver).Str("topic", cfg.Broker.Kafka.Topic).Msg("broker producer ready")

	a.hub = fanout.NewHub(cfg.WebSocket.SendBuffer)
	a.forwarder = a.hub
	if cfg.Fanout.Cluster.Enabled {
		instanceID := cfg.Fanout.Cluster.InstanceID
		if instanceID == "" {
			instanceID = fmt.Sprintf("relay-%d", cfg.Relay.MachineID)
		}
		a.bus = pubsub.NewRedisPubSubFromClient(a.redis, cfg.Fanout.Cluster.BufferSize)
		a.closers = append(a.closers, a.bus.Close)
		a.cluster = fanout.NewCluster(a.hub, a.bus, instanceID)
		a.forwarder = a.cluster
	}

	var coordOpts []coordinator.Option
	if a.cluster != nil {
		coordOpts = append(coordOpts, coordinator.WithBroadcaster(a.cluster))
	}
	if cfg.Relay.Presence.Enabled {
		coordOpts = append(coordOpts, coordinator.WithPresence(
			presence.NewRedisStore(a.redis, cfg.Relay.Presence.Prefix, cfg.Relay.Presence.TTL)))
	}
	a.Coordinator = coordinator.New(a.store, a.producer, a.hub, coordinator.Options{
		MaxContentBytes: cfg.Relay.MaxContentBytes,
		ReplayLimit:     cfg.Relay.ReplayLimit,
	}, coordOpts...)

	repo, err := room.NewGormRepository(a.db)
	if err != nil {
		return fmt.Errorf("failed to migrate rooms: %w", err)
	}
	var roomCache room.Cache
	if cfg.Rooms.Cache.Enabled {
		roomCache = room.NewRedisCache(a.redis, cfg.Rooms.Cache.Prefix)
	}
	a.Rooms = room.NewService(repo, roomCache, cfg.Rooms.Cache.TTL)

	return nil
}

// OpenBridge builds the consumer side: source, dead-letter sink and bridge.
func (a *App) OpenBridge(ctx context.Context) error {
	source, err := broker.OpenSource(a.cfg.Broker, a.mem)
	if err != nil {
		return fmt.Errorf("failed to open broker source: %w", err)
	}
	a.closers = append(a.closers, source.Close)

	// The memory broker has a single topic, so letters get their own log.
	dlqProducer := a.producer
	if a.mem != nil && a.cfg.DeadLetter.Driver == "kafka" {
		dlq := broker.NewMemory(a.cfg.DeadLetter.Topic, 1)
		a.closers = append(a.closers, dlq.Close)
		dlqProducer = dlq
	}

	sink, err := deadletter.Open(ctx, a.cfg.DeadLetter, dlqProducer)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter sink: %w", err)
	}
	a.sink = sink
	a.closers = append(a.closers, sink.Close)

	var options []bridge.Option
	if a.cfg.Bridge.Dedup.Enabled {
		options = append(options, bridge.WithDeduper(
			bridge.NewRedisDeduper(a.redis, a.cfg.Bridge.Dedup.Prefix+":", a.cfg.Bridge.Dedup.Window)))
	}
	a.Bridge = bridge.New(source, a.forwarder, sink, bridge.OptionsFromConfig(a.cfg.Bridge), options...)

	l := log.L()
	l.Info().
		Str("driver", a.cfg.Broker.Driver).
		Str("deadletter", a.cfg.DeadLetter.Driver).
		Bool("dedup", a.cfg.Bridge.Dedup.Enabled).
		Msg("bridge ready")
	return nil
}

// Stats reports fan-out and bridge counters.
func (a *App) Stats() map[string]any {
	stats := map[string]any{"fanout": a.hub.Stats()}
	if a.Bridge != nil {
		stats["bridge"] = a.Bridge.Stats()
	}
	return stats
}

func (a *App) Close() error {
	if a.hub != nil {
		a.hub.Shutdown()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
