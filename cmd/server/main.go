package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KryssNa/sugandha-api/internal/cart"
	"github.com/KryssNa/sugandha-api/internal/checkout"
	"github.com/KryssNa/sugandha-api/internal/domain"
	"github.com/KryssNa/sugandha-api/internal/failure"
	"github.com/KryssNa/sugandha-api/internal/gateway"
	h "github.com/KryssNa/sugandha-api/internal/http"
	"github.com/KryssNa/sugandha-api/internal/identity"
	"github.com/KryssNa/sugandha-api/internal/payment"
	"github.com/KryssNa/sugandha-api/internal/publisher"
	"github.com/KryssNa/sugandha-api/internal/repository"
)

type Config struct {
	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Postgres repository.Credentials

	MongoURI      string
	MongoDatabase string

	RedisAddr string

	KafkaBrokers []string

	FrontendURL string

	EsewaMerchantCode string
	EsewaSecretKey    string
	EsewaPaymentURL   string
	EsewaStatusURL    string

	KhaltiSecretKey   string
	KhaltiInitiateURL string
	KhaltiVerifyURL   string
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Postgres: repository.Credentials{
			Host:              getEnv("POSTGRES_HOST", "localhost"),
			Port:              getEnvInt("POSTGRES_PORT", 5432),
			User:              getEnv("POSTGRES_USER", "postgres"),
			Password:          getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:            getEnv("POSTGRES_DB", "sugandha"),
			MigrationsDirPath: getEnv("MIGRATIONS_DIR", "internal/repository/migrations"),
		},
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getEnv("MONGO_DATABASE", "sugandha"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:3000"),
		EsewaMerchantCode: getEnv("ESEWA_MERCHANT_CODE", "EPAYTEST"),
		EsewaSecretKey:    getEnv("ESEWA_SECRET_KEY", ""),
		EsewaPaymentURL:   getEnv("ESEWA_PAYMENT_URL", "https://rc-epay.esewa.com.np/api/epay/main/v2/form"),
		EsewaStatusURL:    getEnv("ESEWA_STATUS_URL", "https://rc.esewa.com.np/api/epay/transaction/status/"),
		KhaltiSecretKey:   getEnv("KHALTI_SECRET_KEY", ""),
		KhaltiInitiateURL: getEnv("KHALTI_INITIATE_URL", "https://dev.khalti.com/api/v2/epayment/initiate/"),
		KhaltiVerifyURL:   getEnv("KHALTI_VERIFY_URL", "https://dev.khalti.com/api/v2/epayment/lookup/"),
	}
}

func main() {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewRepository(&cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.Postgres); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	mongoDB, err := identity.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}

	identitySvc, err := identity.NewMongoService(mongoDB)
	if err != nil {
		log.Fatalf("failed to init identity service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	cartSvc := cart.NewService(cart.NewMongoRepository(mongoDB), cart.NewRedisCache(redisClient))

	gateways := map[domain.PaymentMethodType]gateway.Gateway{
		domain.MethodEsewa: gateway.NewEsewa(gateway.EsewaConfig{
			MerchantCode: cfg.EsewaMerchantCode,
			SecretKey:    cfg.EsewaSecretKey,
			PaymentURL:   cfg.EsewaPaymentURL,
			StatusURL:    cfg.EsewaStatusURL,
			FrontendURL:  cfg.FrontendURL,
		}),
		domain.MethodKhalti: gateway.NewKhalti(gateway.KhaltiConfig{
			SecretKey:   cfg.KhaltiSecretKey,
			InitiateURL: cfg.KhaltiInitiateURL,
			VerifyURL:   cfg.KhaltiVerifyURL,
			FrontendURL: cfg.FrontendURL,
		}),
	}

	paymentSvc := payment.NewService(repo, gateways)
	failureRecorder := failure.NewRecorder(repo, repo)
	checkoutSvc := checkout.NewService(repo, paymentSvc, identitySvc, cartSvc, failureRecorder)

	poller := publisher.NewOutboxPoller(repo, cfg.KafkaBrokers...)
	go poller.Run(ctx)

	router := h.NewRouter(
		h.NewCheckoutHandler(checkoutSvc, cfg.RequestTimeout),
		h.NewPaymentsHandler(paymentSvc, repo, cfg.RequestTimeout),
		h.NewOrdersHandler(repo, cfg.RequestTimeout),
		h.NewCartHandler(cartSvc, cfg.RequestTimeout),
		cfg.RequestTimeout,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("checkout service starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
