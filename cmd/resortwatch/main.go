package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/resortwatch/internal/auth"
	"github.com/dukerupert/resortwatch/internal/backup"
	"github.com/dukerupert/resortwatch/internal/crawler"
	"github.com/dukerupert/resortwatch/internal/database"
	"github.com/dukerupert/resortwatch/internal/logging"
	"github.com/dukerupert/resortwatch/internal/monitor"
	"github.com/dukerupert/resortwatch/internal/passcode"
	"github.com/dukerupert/resortwatch/internal/portal"
	"github.com/dukerupert/resortwatch/internal/scheduler"
	"github.com/dukerupert/resortwatch/internal/server"
	"github.com/dukerupert/resortwatch/internal/store"
	ws "github.com/dukerupert/resortwatch/internal/websocket"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func main() {
	logger := logging.Setup(os.Getenv("RESORTWATCH_LOG_LEVEL"))

	port := envOr("RESORTWATCH_PORT", "8080")
	dbPath := envOr("RESORTWATCH_DB_PATH", "resortwatch.db")

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Stores
	authSessions := store.NewAuthSessionStore(db)
	passcodeSessions := store.NewPasscodeSessionStore(db)
	regions := store.NewRegionStore(db)
	resorts := store.NewResortStore(db)
	rooms := store.NewRoomStore(db)
	availability := store.NewAvailabilityStore(db)

	// Live monitor feed
	hub := ws.NewHub(logger.With("component", "websocket"))
	mon := monitor.New(hub, logger.With("component", "monitor"))

	// Portal client
	baseURL := envOr("RESORTWATCH_PORTAL_URL", "https://portal.example.com")
	portalCfg := portal.Config{
		BaseURL:            baseURL,
		AjaxURL:            envOr("RESORTWATCH_PORTAL_AJAX_URL", baseURL+"/wp-admin/admin-ajax.php"),
		BookURL:            envOr("RESORTWATCH_PORTAL_BOOK_URL", baseURL+"/book/"),
		MemberID:           os.Getenv("RESORTWATCH_MEMBER_ID"),
		Password:           os.Getenv("RESORTWATCH_PASSWORD"),
		UserAgent:          envOr("RESORTWATCH_USER_AGENT", defaultUserAgent),
		MinRequestInterval: envDuration("RESORTWATCH_REQUEST_INTERVAL", time.Second),
	}
	client, err := portal.NewClient(portalCfg, mon, logger.With("component", "portal"))
	if err != nil {
		log.Fatalf("failed to create portal client: %v", err)
	}

	// Passcode exchange + authenticator
	trigger := passcode.NewTrigger(os.Getenv("RESORTWATCH_PASSCODE_TRIGGER_URL"))
	exchange := passcode.NewExchange(passcodeSessions, client, trigger, logger.With("component", "passcode"))
	authenticator := auth.NewAuthenticator(client, authSessions, exchange, mon, portalCfg.UserAgent, logger.With("component", "auth"))
	client.SetReauth(authenticator.Reauthenticate)

	// Scheduler + crawl engine
	sched := scheduler.New(resorts, rooms, availability, scheduler.Intervals{
		Resorts:        envDuration("RESORTWATCH_RESORT_INTERVAL", 30*24*time.Hour),
		Rooms:          envDuration("RESORTWATCH_ROOM_INTERVAL", 30*24*time.Hour),
		Availabilities: envDuration("RESORTWATCH_AVAILABILITY_INTERVAL", 15*time.Minute),
	}, logger.With("component", "scheduler"))

	crawlCfg := crawler.DefaultConfig()
	crawlCfg.Concurrency = envInt("RESORTWATCH_CONCURRENCY", crawlCfg.Concurrency)
	crawlCfg.ResortDelay = envDuration("RESORTWATCH_RESORT_DELAY", crawlCfg.ResortDelay)
	if codes := os.Getenv("RESORTWATCH_COUNTRY_CODES"); codes != "" {
		crawlCfg.CountryCodes = strings.Split(codes, ",")
	}
	engine := crawler.New(client, authenticator, regions, resorts, rooms, availability,
		sched, mon, crawlCfg, logger.With("component", "crawler"))

	// Encrypted DB snapshots
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("RESORTWATCH_S3_ENDPOINT"),
			Bucket:    os.Getenv("RESORTWATCH_S3_BUCKET"),
			Region:    envOr("RESORTWATCH_S3_REGION", "auto"),
			AccessKey: os.Getenv("RESORTWATCH_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("RESORTWATCH_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("RESORTWATCH_BACKUP_PASSPHRASE"),
		ScheduleHour:  envInt("RESORTWATCH_BACKUP_HOUR", 3),
		RetentionDays: envInt("RESORTWATCH_BACKUP_RETENTION_DAYS", 30),
	}, db, func(s backup.Status) {
		hub.Broadcast(ws.NewEvent("backup_status", s))
	}, logger.With("component", "backup"))

	srv := server.New(hub, mon, exchange, engine, sched,
		os.Getenv("RESORTWATCH_ADMIN_SECRET"), logger)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // cron endpoint runs a full crawl
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backupMgr.Start(ctx)

	// Housekeeping: expired passcode sessions and stale rate limit entries
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := exchange.PurgeExpired(); err != nil {
					logger.Error("purging expired passcode sessions", "error", err)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	go func() {
		fmt.Printf("resortwatch running at http://localhost:%s\n", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	cancel()
	backupMgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
