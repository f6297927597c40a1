package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"laneassist/internal/api"
	"laneassist/internal/auth"
	"laneassist/internal/config"
	"laneassist/internal/dedup"
	"laneassist/internal/dispatch"
	"laneassist/internal/history"
	"laneassist/internal/invoice"
	"laneassist/internal/models"
	"laneassist/internal/redis"
	"laneassist/internal/retrieval"
	"laneassist/internal/secrets"
	"laneassist/internal/service/ai"
	"laneassist/internal/service/assistant"
	"laneassist/internal/service/tools"
	"laneassist/internal/storage"
	"laneassist/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg, err := config.Load(os.Getenv("LANEASSIST_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SSMPrefix != "" {
		client, err := secrets.NewFromEnvironment(ctx)
		if err != nil {
			log.Fatalf("init secrets: %v", err)
		}
		if err := secrets.Apply(ctx, client, cfg.SSMPrefix, cfg); err != nil {
			log.Fatalf("resolve secrets: %v", err)
		}
	}
	slog.SetDefault(newLogger(cfg.Log))

	dbType := cfg.BasicConfig.DatabaseDriver
	slog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	// Create necessary tables: customers, orders
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	store := storage.NewStore(db, dbType)

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()
	ledger := dedup.NewLedger(rdb, cfg.DedupTTL())
	conversations := history.NewStore(rdb, cfg.Pipeline.HistoryCap, cfg.HistoryTTL())

	chatModel, err := ai.NewChatModel(ctx, cfg, cfg.Model.ChatModel)
	if err != nil {
		log.Fatalf("init chat model: %v", err)
	}
	var vision model.BaseChatModel = chatModel
	if cfg.Model.VisionModel != "" && cfg.Model.VisionModel != cfg.Model.ChatModel {
		if vision, err = ai.NewChatModel(ctx, cfg, cfg.Model.VisionModel); err != nil {
			log.Fatalf("init vision model: %v", err)
		}
	}
	images := tools.NewImageReader(vision)

	sources := assistant.Sources{
		Images:    images,
		History:   conversations,
		Orders:    store,
		Customers: store,
	}
	if vector := newVectorSearcher(ctx, cfg); vector != nil {
		sources.Vector = vector
	}
	graph, err := retrieval.NewGraphSearcher(ctx, cfg.Neo4j, cfg.Pipeline.GraphLimit)
	if err != nil {
		slog.Warn("graph search disabled", "error", err)
	} else {
		sources.Graph = graph
		defer graph.Close(context.Background())
	}

	renderer, err := invoice.NewRenderer(cfg.BasicConfig.InvoiceDir)
	if err != nil {
		log.Fatalf("init invoice renderer: %v", err)
	}
	senders := map[models.Channel]dispatch.Sender{models.ChannelWeb: dispatch.Noop{}}
	var media assistant.MediaDownloader
	whatsapp, err := dispatch.NewWhatsApp(cfg)
	if err != nil {
		slog.Warn("whatsapp delivery disabled", "error", err)
		senders[models.ChannelWhatsApp] = dispatch.Noop{}
	} else {
		senders[models.ChannelWhatsApp] = whatsapp
		media = whatsapp
	}

	personas, err := ai.LoadPersonas(ctx, cfg.Prompts)
	if err != nil {
		log.Fatalf("load prompts: %v", err)
	}
	registry := ai.NewRegistry()
	if err := tools.RegisterAll(ctx, registry, tools.Deps{
		Orders:    store,
		Customers: store,
		Invoices:  renderer,
		Senders:   senders,
		Images:    images,
		Payments:  cfg.Payments,
		Search:    cfg.Search,
	}); err != nil {
		log.Fatalf("register tools: %v", err)
	}
	slog.Info("tools registered", "tools", registry.Names())
	loop := ai.NewLoop(chatModel, registry, personas, ai.LoopConfigFrom(cfg))

	aggregator := assistant.NewAggregator(sources, cfg.FacetTimeout(), cfg.Pipeline.HistoryCap)
	pipeline := assistant.NewService(aggregator, loop, conversations, senders, media)
	pipeline.StartMediaCleaner(ctx, cfg.BasicConfig.MediaDir,
		time.Duration(cfg.BasicConfig.MediaFileTTL)*time.Minute,
		time.Duration(cfg.BasicConfig.MediaCleanInterval)*time.Minute)
	dispatcher := worker.NewDispatcher(pipeline, worker.DispatcherConfigFrom(cfg))

	authService := auth.NewService(cfg.WhatsApp)
	if authService.DevMode() {
		slog.Warn("whatsapp app secret not set, webhook signatures are not verified")
	}
	handlers := api.NewHandler(authService, ledger, dispatcher, pipeline, rdb, cfg.Pipeline.WebRateLimit)

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Error("worker shutdown", "error", err)
	}
}

// newVectorSearcher connects to qdrant; nil means knowledge base search is off.
func newVectorSearcher(ctx context.Context, cfg *config.Config) *retrieval.VectorSearcher {
	client, err := retrieval.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		slog.Warn("vector search disabled", "error", err)
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, config.DefaultVectorConnect)
	defer cancel()
	if _, err := client.HealthCheck(connectCtx); err != nil {
		slog.Warn("qdrant health check failed", "error", err)
	}
	embedder, err := retrieval.NewEmbedder(ctx, cfg)
	if err != nil {
		slog.Warn("vector search disabled", "error", err)
		client.Close()
		return nil
	}
	return retrieval.NewVectorSearcher(client, embedder, cfg.Qdrant.Collection, cfg.Qdrant.Limit)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
