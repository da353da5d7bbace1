package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"scout-pass-system/cache"
	"scout-pass-system/handlers"
	"scout-pass-system/middleware"
	"scout-pass-system/models"
	"scout-pass-system/services"
	"scout-pass-system/utils"
	"scout-pass-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Pass{},
		&models.Reward{},
		&models.LeaderboardEntry{},
		&models.Event{},
		&models.ReferrerMirror{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Leaderboard read cache: Redis when configured, in-memory otherwise.
	var leaderboardCache cache.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache, err := cache.NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatal("failed to connect to Redis:", err)
		}
		leaderboardCache = redisCache
		log.Println("✅ Redis leaderboard cache connected")
	} else {
		leaderboardCache = cache.NewInMemoryCache()
		log.Println("⚠️  REDIS_ADDR not set, using in-memory leaderboard cache")
	}

	billingURL := os.Getenv("BILLING_SERVICE_URL")
	if billingURL == "" {
		log.Fatal("BILLING_SERVICE_URL environment variable not set")
	}
	serviceToken := os.Getenv("PASS_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("PASS_SERVICE_TOKEN environment variable not set")
	}
	notifierURL := os.Getenv("NOTIFIER_SERVICE_URL")
	if notifierURL == "" {
		log.Fatal("NOTIFIER_SERVICE_URL environment variable not set")
	}
	landingBaseURL := os.Getenv("LANDING_BASE_URL")
	if landingBaseURL == "" {
		landingBaseURL = "https://app.firstlienscout.com"
	}

	billingClient := services.NewBillingClient(billingURL, serviceToken)
	notifierClient := services.NewNotifierClient(notifierURL, serviceToken, landingBaseURL)

	eventService := services.NewEventService(db)
	leaderboardService := services.NewLeaderboardService(db, leaderboardCache)
	ledgerService := services.NewLedgerService(db)
	passService := services.NewPassService(db, leaderboardService, notifierClient)
	claimService := services.NewClaimService(db, leaderboardService, ledgerService, billingClient)
	sweeperService := services.NewSweeperService(db)
	conversionService := services.NewConversionService(db, leaderboardService, ledgerService, billingClient)

	// Event archive to R2 is optional; the scheduler skips it when unset.
	var archiveService *services.ArchiveService
	if os.Getenv("R2_BUCKET_NAME") != "" {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		archiveService = services.NewArchiveService(db, eventService)
		log.Println("✅ Event archive to R2 enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Referrer mirror sync from the account service ---
	accountServiceURL := os.Getenv("ACCOUNT_SERVICE_URL")
	if accountServiceURL == "" {
		log.Fatal("ACCOUNT_SERVICE_URL environment variable not set")
	}
	syncWorker := workers.NewReferrerSyncWorker(db, accountServiceURL, "/api/v1/public/subscribers", serviceToken)
	syncWorker.Start(ctx)

	scheduler := services.NewScheduler(db, sweeperService, conversionService, passService, archiveService)
	scheduler.Start(ctx)

	handlers.SetupPassRoutes(app, passService, claimService, ledgerService, leaderboardService, sweeperService, conversionService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Referrer Sync Worker running")
	log.Println("✅ Sweep / conversion-check / allocation jobs scheduled")
	log.Println("✅ GatewayAuthMiddleware enforced globally; all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
