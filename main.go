package main

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"roster-api/handlers"
	"roster-api/initializers"
	"roster-api/middleware"
	"roster-api/pkg/notify"
	"roster-api/repository"
	"roster-api/store"
	"roster-api/websocket"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	cfg, err := initializers.LoadConfig()
	if err != nil {
		log.Fatal("Config error: ", err)
	}

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		log.Printf("DB connection failed: %v, retrying in 2s...", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatal("Could not connect to database: ", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("Migration driver error: ", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		log.Fatal("Migration init error: ", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("Migration failed: ", err)
	}

	usersRepo := repository.NewUsersRepository(db)
	eventsRepo := repository.NewEventsRepository(db)

	hub := websocket.NewHub()
	broadcaster := &notify.WSBroadcaster{Hub: hub}

	// The in-memory roster is authoritative; postgres is a write-through
	// durable backend reloaded on startup. The hub receives change
	// descriptors straight from the store, in commit order.
	roster := store.New(eventsRepo).WithPublisher(broadcaster)
	persisted, err := eventsRepo.LoadAll()
	if err != nil {
		log.Fatal("Failed to load events: ", err)
	}
	roster.Seed(persisted)

	if os.Getenv("GIN_MODE") == "release" || strings.ToLower(os.Getenv("APP_ENV")) == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(gin.Recovery())

	if len(cfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
		}
	} else {
		_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	}

	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	authHandler := handlers.NewAuthHandler(usersRepo, cfg.JWTSecret)
	eventsHandler := handlers.NewEventsHandler(roster)

	r.GET("/health", handlers.HealthCheck)

	authPublic := r.Group("/", middleware.RateLimitAuthMiddleware())
	authPublic.POST("/register", authHandler.Register)
	authPublic.POST("/login", authHandler.Login)

	auth := r.Group("/", handlers.AuthMiddleware(cfg.JWTSecret))
	{
		auth.GET("/ws", websocket.ServeWS(hub))
		auth.GET("/events", eventsHandler.ListEvents)
		auth.POST("/events", eventsHandler.CreateEvent)
		auth.POST("/events/:eventId/join", eventsHandler.JoinEvent)
		auth.POST("/events/:eventId/leave", eventsHandler.LeaveEvent)
	}

	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal("Server error: ", err)
	}
}
