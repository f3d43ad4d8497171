// Command seed-db loads the product catalog and opening stock levels into
// the database. Safe to re-run: products are upserted and existing ledger
// rows are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-core/internal/domain/inventory"
	"github.com/xenking/checkout-core/internal/domain/product"
	"github.com/xenking/checkout-core/internal/storage/postgres"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	raw, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	var seed []productJSON
	if err := json.Unmarshal(raw, &seed); err != nil {
		return errors.Wrap(err, "parse products file")
	}

	db := postgres.NewDB(pool)
	products := postgres.NewProductRepository(db)
	stock := postgres.NewInventoryRepository(db)

	for _, p := range seed {
		err := products.Upsert(ctx, &product.Product{
			ID:     p.ID,
			Name:   p.Name,
			Price:  p.Price,
			Active: true,
		})
		if err != nil {
			return err
		}

		err = stock.Create(ctx, &inventory.Record{
			ProductID: p.ID,
			Total:     p.Stock,
			Available: p.Stock,
		})
		switch {
		case errors.Is(err, inventory.ErrAlreadyExists):
			slog.Info("stock already present, skipping", slog.String("product_id", p.ID))
		case err != nil:
			return err
		}
	}

	slog.Info("seeded products", slog.Int("count", len(seed)))
	return nil
}
