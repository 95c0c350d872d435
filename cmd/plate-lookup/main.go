package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plate-lookup/internal/common/database"
	"plate-lookup/internal/common/logger"
	"plate-lookup/internal/common/mqtt"
	"plate-lookup/internal/common/redis"
	"plate-lookup/internal/config"
	"plate-lookup/internal/domain"
	"plate-lookup/internal/events"
	httpapi "plate-lookup/internal/http"
	"plate-lookup/internal/imagestore"
	"plate-lookup/internal/importer"
	"plate-lookup/internal/metrics"
	"plate-lookup/internal/repository"
	"plate-lookup/internal/service"
	"plate-lookup/internal/store"
	"plate-lookup/internal/tts"
	"plate-lookup/internal/voice"
	"plate-lookup/internal/voice/mqttvoice"
)

const speakTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "plate-lookup")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 存储：DB 可用时用 Postgres，否则回退到内存
	var plateStore repository.PlateStore = repository.NewMemoryPlateStore()
	var db *sql.DB
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(ctx, &cfg.Database); err == nil {
			pg := repository.NewPostgresPlateStore(d)
			if err := pg.EnsureSchema(ctx); err != nil {
				log.Fatal("Failed to apply schema", zap.Error(err))
			}
			db = d
			plateStore = pg
			log.Info("DB enabled for plate-lookup")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}

	// Redis：待查数量缓存 + 变更事件流
	var kv store.KV = store.NewMemoryKV()
	var publisher events.Publisher = events.Nop{}
	var redisClient *goredis.Client
	if cfg.RedisEnabled {
		c := redis.NewRedisClient(&cfg.Redis)
		if err := redis.Ping(ctx, c); err == nil {
			redisClient = c
			kv = store.NewRedisKV(c)
			publisher = events.NewRedisStreamPublisher(c, cfg.EventStream, cfg.EventStreamMax, log)
		} else {
			log.Warn("Redis enabled but ping failed, using in-process cache", zap.Error(err))
			_ = c.Close()
		}
	}

	var images imagestore.ImageStore = imagestore.Nop{}
	if cfg.Images.Enabled {
		gcs, err := imagestore.NewGCSStore(ctx, cfg.Images.CredentialsFile)
		if err != nil {
			log.Warn("Image store unavailable, image deletion disabled", zap.Error(err))
		} else {
			defer gcs.Close()
			images = gcs
		}
	}

	m := metrics.New()
	pending := service.NewPendingTracker(plateStore, kv, cfg.PendingCacheTTL, m, log)
	search := service.NewSearchService(plateStore, pending, m, log)
	mutation := service.NewMutationService(plateStore, search, pending, images, publisher, m, log)
	parkingSync := service.NewParkingSyncService(plateStore, publisher, m, log)
	community := domain.Community{Suffix: cfg.DefaultCommunity}

	router := httpapi.NewRouter(log)
	router.RegisterPlateRoutes(httpapi.NewPlateHandler(
		search, mutation, parkingSync, importer.New(plateStore, log),
		community, cfg.OperatorDefault, log,
	))
	router.RegisterMetrics(m.Handler())
	router.RegisterHealth()
	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if cfg.Voice.Enabled {
		if err := startVoice(gctx, g, cfg, search, community, m, log); err != nil {
			log.Error("Voice session not started", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("plate-lookup stopped with error", zap.Error(err))
	}

	if redisClient != nil {
		_ = redis.Close(redisClient)
	}
	if db != nil {
		_ = database.Close(db)
	}
}

// startVoice MQTT 语音设备 -> Session -> VoiceRunner -> 查询链，播报回到设备
func startVoice(ctx context.Context, g *errgroup.Group, cfg *config.Config, search *service.SearchService, community domain.Community, m *metrics.Metrics, log *zap.Logger) error {
	mode, err := domain.ParseSearchMode(cfg.Voice.Mode)
	if err != nil {
		return err
	}
	client, err := mqtt.NewClient(&cfg.MQTT.MQTTConfig, log)
	if err != nil {
		return err
	}
	topics := mqttvoice.TopicsFor(cfg.MQTT.TopicPrefix)

	device, err := mqttvoice.NewDevice(client, topics, log)
	if err != nil {
		client.Disconnect()
		return err
	}
	var synth mqttvoice.Synthesizer
	if cfg.TTS.Enabled && cfg.TTS.Endpoint != "" {
		synth = tts.NewClient(cfg.TTS.Endpoint, cfg.TTS.Timeout, log)
	}
	speaker, err := mqttvoice.NewSpeaker(client, topics, synth, speakTimeout, log)
	if err != nil {
		_ = device.Close()
		client.Disconnect()
		return err
	}

	opts := voice.DefaultOptions()
	opts.DebounceDelay = cfg.Voice.DebounceDelay
	opts.FastPathLength = cfg.Voice.FastPathLength
	opts.SettleDelay = cfg.Voice.SettleDelay
	opts.InputDevice = cfg.Voice.InputDevice

	session := voice.NewSession(device, speaker, device, device, opts, log)
	if err := session.Open(ctx); err != nil {
		_ = speaker.Close()
		client.Disconnect()
		return err
	}
	search.SetAnnouncer(session)

	runner := service.NewVoiceRunner(search, community, mode, m, log)
	g.Go(func() error { return runner.Run(ctx, session.Triggers()) })
	g.Go(func() error {
		<-ctx.Done()
		search.SetAnnouncer(nil)
		_ = session.Close()
		_ = speaker.Close()
		client.Disconnect()
		return nil
	})
	log.Info("Voice session opened", zap.String("topic_prefix", cfg.MQTT.TopicPrefix), zap.String("mode", string(mode)))
	return nil
}
