package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/transitgo/backend/docs"
	"github.com/transitgo/backend/internal/database"
	"github.com/transitgo/backend/internal/handlers"
	mW "github.com/transitgo/backend/internal/middleware"
	"github.com/transitgo/backend/internal/services"
)

// @title T-GO Transit Backend API
// @version 1.0
// @description Booking, wallet and ticketing API for the T-GO transit app
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("app.timezone", "APP_TIMEZONE")
	viper.BindEnv("app.expiry_sweep_interval", "EXPIRY_SWEEP_INTERVAL")

	viper.SetDefault("app.timezone", "Asia/Jakarta")
	viper.SetDefault("app.expiry_sweep_interval", time.Hour)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "T-GO Transit Backend API"
	docs.SwaggerInfo.Description = "Booking, wallet and ticketing API for the T-GO transit app"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	loc, err := time.LoadLocation(viper.GetString("app.timezone"))
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", viper.GetString("app.timezone"), err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	walletService := services.NewWalletService(db)
	routeService := services.NewRouteService(db, redisClient)
	ticketService := services.NewTicketService(db, loc)
	bookingService := services.NewBookingService(db, walletService, routeService, ticketService, loc)
	qrService := services.NewQRService(ticketService, redisClient)
	channelService := services.NewPaymentChannelService()

	walletHandler := handlers.NewWalletHandler(walletService, channelService)
	bookingHandler := handlers.NewBookingHandler(bookingService, loc)
	ticketHandler := handlers.NewTicketHandler(ticketService, qrService)
	routeHandler := handlers.NewRouteHandler(routeService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Background expiry sweep; read paths derive expiry themselves, this
	// just keeps stored statuses current.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go ticketService.RunSweeper(sweepCtx, viper.GetDuration("app.expiry_sweep_interval"))

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/routes", routeHandler.ListRoutes)
		r.Get("/routes/find", routeHandler.FindRoutes)
		r.Get("/routes/{routeId}/stops", routeHandler.RouteStops)
		r.Get("/stops", routeHandler.ListStops)
		r.Get("/payment-methods", channelService.GetPaymentMethods)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", walletHandler.GetWallet)
			r.Post("/wallet/topup", walletHandler.TopUp)
			r.Get("/wallet/transactions", walletHandler.ListTransactions)

			r.Post("/bookings", bookingHandler.Book)

			r.Get("/tickets", ticketHandler.ListTickets)
			r.Get("/tickets/{ticketId}", ticketHandler.GetTicket)
			r.Get("/tickets/{ticketId}/qr", ticketHandler.TicketQR)
			r.Post("/tickets/{ticketId}/cancel", bookingHandler.Cancel)
			r.Post("/tickets/validate", ticketHandler.ValidateTicket)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
