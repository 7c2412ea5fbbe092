// Command seed applies the schema, creates the first administrator and,
// when the catalog is empty, a small demo catalog. Running it twice is safe.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/go-storefront/internal/config"
	"github.com/flicky/go-storefront/internal/logger"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

var demoProducts = []model.Product{
	{Name: "iPhone 15 Pro Max", Description: "Apple smartphone with a 48 MP camera", Price: decimal.NewFromInt(129990), Category: "Electronics", Stock: 15},
	{Name: "Samsung Galaxy S24 Ultra", Description: "Samsung flagship smartphone", Price: decimal.NewFromInt(109990), Category: "Electronics", Stock: 12},
	{Name: `MacBook Pro 16" M3`, Description: "Powerful laptop for work and creativity", Price: decimal.NewFromInt(249990), Category: "Electronics", Stock: 8},
	{Name: "Cotton T-shirt", Description: "Men's cotton T-shirt, all sizes", Price: decimal.NewFromInt(1499), Category: "Clothing", Stock: 50},
	{Name: "Levi's 501 Jeans", Description: "Classic straight-leg jeans", Price: decimal.NewFromInt(6990), Category: "Clothing", Stock: 25},
	{Name: "Winter Jacket", Description: "Warm winter jacket with fur lining", Price: decimal.NewFromInt(12990), Category: "Clothing", Stock: 18},
	{Name: "Python for Beginners", Description: "A complete guide to Python", Price: decimal.NewFromInt(1890), Category: "Books", Stock: 30},
	{Name: "War and Peace", Description: "Leo Tolstoy's classic novel", Price: decimal.NewFromInt(890), Category: "Books", Stock: 40},
}

func main() {
	withDemo := flag.Bool("demo", true, "create demo products when the catalog is empty")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Discard().Error("load config", "error", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Error("migrate database", "error", err)
		os.Exit(1)
	}
	log.Info("schema applied")

	users := repository.NewUserRepository(pool)
	existing, err := users.GetByUsername(ctx, cfg.Seed.AdminUsername)
	if err != nil {
		log.Error("look up admin", "error", err)
		os.Exit(1)
	}
	if existing == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Seed.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Error("hash admin password", "error", err)
			os.Exit(1)
		}
		admin := &model.User{
			Username:     cfg.Seed.AdminUsername,
			Email:        cfg.Seed.AdminEmail,
			PasswordHash: string(hash),
			IsAdmin:      true,
		}
		if err := users.Create(ctx, admin); err != nil {
			log.Error("create admin", "error", err)
			os.Exit(1)
		}
		log.Info("administrator created", "username", admin.Username)
	} else {
		log.Info("administrator already exists", "username", existing.Username)
	}

	if !*withDemo {
		return
	}
	products := repository.NewProductRepository(pool)
	n, err := products.Count(ctx)
	if err != nil {
		log.Error("count products", "error", err)
		os.Exit(1)
	}
	if n > 0 {
		log.Info("catalog not empty, skipping demo products", "products", n)
		return
	}
	for i := range demoProducts {
		if err := products.Create(ctx, &demoProducts[i]); err != nil {
			log.Error("create demo product", "name", demoProducts[i].Name, "error", err)
			os.Exit(1)
		}
	}
	log.Info("demo products created", "count", len(demoProducts))
}
