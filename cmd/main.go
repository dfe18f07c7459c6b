package main

import (
	"fmt"
	"os"

	"github.com/liveon/scrapbook-backend/internal/clients/gcp"
	"github.com/liveon/scrapbook-backend/internal/clients/openai"
	redisclient "github.com/liveon/scrapbook-backend/internal/clients/redis"
	"github.com/liveon/scrapbook-backend/internal/http/handlers"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/classify"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/identity"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/render"
	"github.com/liveon/scrapbook-backend/internal/modules/scrapbook/session"
	"github.com/liveon/scrapbook-backend/internal/pkg/logger"
	"github.com/liveon/scrapbook-backend/internal/server"
	"github.com/liveon/scrapbook-backend/internal/services"
	"github.com/liveon/scrapbook-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Clients
	log.Info("Setting up clients from main...")
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	captionService, err := openai.NewCaption(log, openaiClient)
	if err != nil {
		log.Error("Could not init Caption", "error", err)
		os.Exit(1)
	}

	// Stores: redis when configured, in-process otherwise.
	var sessionStore session.Store
	var artifactStore render.ArtifactStore
	if os.Getenv("REDIS_ADDR") != "" {
		rdb, err := redisclient.NewClient(log)
		if err != nil {
			log.Error("Could not init redis", "error", err)
			os.Exit(1)
		}
		sessionStore = redisclient.NewSessionStore(log, rdb)
		artifactStore = redisclient.NewArtifactCache(log, rdb)
	} else {
		log.Warn("REDIS_ADDR not set, using in-process stores")
		sessionStore = session.NewMemoryStore()
		artifactStore = render.NewMemoryArtifactStore()
	}

	// Modules
	log.Info("Setting up modules from main...")
	resolver := identity.NewResolver(log, bucketService)
	oracle, err := classify.NewOrchestrator(log, openaiClient)
	if err != nil {
		log.Error("Could not init Orchestrator", "error", err)
		os.Exit(1)
	}
	commands, err := session.NewCommands(log, sessionStore, oracle)
	if err != nil {
		log.Error("Could not init SessionCommands", "error", err)
		os.Exit(1)
	}

	styles, err := render.LoadStyles(utils.GetEnv("STYLE_FILE", "", log))
	if err != nil {
		log.Error("Could not load styles", "error", err)
		os.Exit(1)
	}
	fetcher := render.NewFetcher(log, bucketService)
	composer := render.NewComposer(log, fetcher)
	renderCache, err := render.NewCache(log, artifactStore, composer)
	if err != nil {
		log.Error("Could not init RenderCache", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up services from main...")
	scrapbookService, err := services.NewScrapbookService(log, services.ScrapbookDeps{
		Bucket:   bucketService,
		Resolver: resolver,
		Oracle:   oracle,
		Caption:  captionService,
		Store:    sessionStore,
		Commands: commands,
		Cache:    renderCache,
		Styles:   styles,
	})
	if err != nil {
		log.Error("Could not init ScrapbookService", "error", err)
		os.Exit(1)
	}

	// Handlers
	log.Info("Setting up handlers from main...")
	scrapbookHandler := handlers.NewScrapbookHandler(log, scrapbookService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ScrapbookHandler: scrapbookHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
