package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-storefront/internal/config"
	"github.com/flicky/go-storefront/internal/handler"
	"github.com/flicky/go-storefront/internal/logger"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/repository"
	"github.com/flicky/go-storefront/internal/service"
	"github.com/flicky/go-storefront/internal/storage"
	"github.com/flicky/go-storefront/internal/worker"
	"github.com/flicky/go-storefront/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		slog.Error("init logger", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	if err := repository.Migrate(ctx, dbPool); err != nil {
		log.Error("migrate database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("connected to Redis")
	}

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool)
	transactor := repository.NewTransactor(dbPool)

	images := storage.NewImageStore(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	productSvc := service.NewProductService(productRepo, redisClient, images, log)

	// Order events: RabbitMQ when enabled, otherwise handled in-process.
	var (
		amqpConn    *amqp.Connection
		orderWorker *worker.OrderWorker
		events      service.EventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		amqpConn, err = amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			log.Error("connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer amqpConn.Close()

		consumeCh, err := amqpConn.Channel()
		if err != nil {
			log.Error("open RabbitMQ channel", "error", err)
			os.Exit(1)
		}
		defer consumeCh.Close()
		if err := worker.SetupRabbitMQ(consumeCh); err != nil {
			log.Error("setup RabbitMQ", "error", err)
			os.Exit(1)
		}

		publishCh, err := amqpConn.Channel()
		if err != nil {
			log.Error("open RabbitMQ channel", "error", err)
			os.Exit(1)
		}
		defer publishCh.Close()

		orderWorker = worker.NewOrderWorker(consumeCh, productSvc, redisClient, log)
		events = worker.NewPublisher(publishCh)
		log.Info("connected to RabbitMQ")
	} else {
		orderWorker = worker.NewOrderWorker(nil, productSvc, redisClient, log)
		events = orderWorker
	}

	// Services
	authSvc := service.NewAuthService(userRepo, cfg.Auth.Secret, cfg.Auth.Expiration)
	cartSvc := service.NewCartService(cartRepo, productRepo)
	orderSvc := service.NewOrderService(transactor, orderRepo, events, log)
	adminSvc := service.NewAdminService(userRepo, productRepo, orderRepo, log)

	// Handlers
	tmpl, err := loadTemplates(cfg.Server.TemplatesDir)
	if err != nil {
		log.Error("load templates", "error", err)
		os.Exit(1)
	}
	render := handler.NewRenderer(cartSvc, log)
	authH := handler.NewAuthHandler(authSvc, cfg.Auth, render)
	productH := handler.NewProductHandler(productSvc, render)
	cartH := handler.NewCartHandler(cartSvc, render)
	orderH := handler.NewOrderHandler(orderSvc, cartSvc, render)
	adminH := handler.NewAdminHandler(adminSvc, productSvc, orderSvc, render)
	healthH := handler.NewHealthHandler(dbPool, redisClient, amqpConn)

	// Router
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.MaxMultipartMemory = cfg.Upload.MaxBytes
	router.SetHTMLTemplate(tmpl)
	router.Use(
		middleware.RequestLogger(log),
		middleware.Recovery(log, render.Panic),
		gzip.Gzip(gzip.DefaultCompression),
		middleware.Authenticate(authSvc, cfg.Auth.CookieName, log),
	)

	staticFS, err := fs.Sub(web.FS, "static")
	if err != nil {
		log.Error("open static assets", "error", err)
		os.Exit(1)
	}
	router.StaticFS("/static", http.FS(staticFS))
	router.Static("/uploads", cfg.Upload.Dir)
	router.NoRoute(render.NotFound)

	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)

	limited := middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	router.GET("/", productH.Home)
	router.GET("/catalog", productH.Catalog)
	router.GET("/product/:id", productH.Detail)
	router.GET("/about", productH.About)

	router.GET("/register", authH.RegisterPage)
	router.POST("/register", limited, authH.Register)
	router.GET("/login", authH.LoginPage)
	router.POST("/login", limited, authH.Login)
	router.GET("/logout", authH.Logout)

	user := router.Group("", middleware.RequireLogin())
	{
		user.GET("/cart", cartH.View)
		user.POST("/cart/add/:id", cartH.Add)
		user.POST("/cart/update/:id", cartH.Update)
		user.GET("/cart/clear", cartH.Clear)
		user.POST("/cart/clear", cartH.Clear)

		user.GET("/checkout", orderH.CheckoutPage)
		user.POST("/checkout", limited, orderH.Checkout)
		user.GET("/order/confirmation/:id", orderH.Confirmation)
		user.GET("/orders", orderH.List)
		user.GET("/order/:id", orderH.Detail)
		user.POST("/order/:id/cancel", orderH.Cancel)
	}

	admin := router.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("", adminH.Dashboard)
		admin.GET("/users", adminH.Users)
		admin.POST("/user/:id/toggle-admin", adminH.ToggleAdmin)
		admin.POST("/user/:id/delete", adminH.DeleteUser)

		admin.GET("/products", adminH.Products)
		admin.GET("/products/export", adminH.ExportProducts)
		admin.GET("/product/add", adminH.NewProduct)
		admin.POST("/product/add", adminH.CreateProduct)
		admin.GET("/product/:id/edit", adminH.EditProduct)
		admin.POST("/product/:id/edit", adminH.UpdateProduct)
		admin.POST("/product/:id/delete", adminH.DeleteProduct)

		admin.GET("/orders", adminH.Orders)
		admin.GET("/order/:id", adminH.OrderDetail)
		admin.POST("/order/:id/status", adminH.UpdateOrderStatus)
		admin.POST("/order/:id/payment", adminH.UpdatePaymentStatus)
		admin.POST("/order/:id/delete", adminH.DeleteOrder)
	}

	api := router.Group("/api", cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	{
		api.GET("/products", productH.APIList)
		api.GET("/products/:id", productH.APIGet)
		api.GET("/orders", middleware.RequireLogin(), orderH.APIList)
	}

	if cfg.RabbitMQ.Enabled {
		if err := orderWorker.Start(ctx); err != nil {
			log.Error("start order worker", "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	orderWorker.Stop()
	cancel()
	log.Info("server stopped")
}

// loadTemplates prefers templates on disk when a directory is configured,
// which allows editing pages without a rebuild.
func loadTemplates(dir string) (*template.Template, error) {
	if dir != "" {
		return handler.LoadTemplates(os.DirFS(dir), "*.html")
	}
	return handler.LoadTemplates(web.FS, "templates/*.html")
}
