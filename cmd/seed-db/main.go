// Command seed-db loads a demo catalog with categories, products, bundles and
// promotions. It is safe to run repeatedly; every write is an upsert.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/events"
	"github.com/xenking/kart-promotions/internal/flashsale"
	"github.com/xenking/kart-promotions/internal/repository"
)

type catalog struct {
	Categories []categoryJSON    `json:"categories"`
	Products   []productJSON     `json:"products"`
	Bundles    []bundleJSON      `json:"bundles"`
	Promotions []json.RawMessage `json:"promotions"`
}

type categoryJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type productJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Categories   []string        `json:"categories"`
	Brand        string          `json:"brand"`
	CountInStock int             `json:"count_in_stock"`
	Sale         *struct {
		SalePrice    decimal.Decimal `json:"sale_price"`
		StartsAt     *time.Time      `json:"starts_at"`
		EndsAt       *time.Time      `json:"ends_at"`
		FlashStock   int             `json:"flash_stock"`
		PerUserLimit int             `json:"per_user_limit"`
	} `json:"sale"`
}

type bundleJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Items       []bundle.Item   `json:"items"`
	BundlePrice decimal.Decimal `json:"bundle_price"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
		redisAddr   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address for flash-sale allotments (or REDIS_ADDR env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if redisAddr == "" {
		redisAddr = os.Getenv("REDIS_ADDR")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if err := run(ctx, lg, databaseURL, catalogFile, redisAddr); err != nil {
			return errors.Wrap(err, "seed")
		}
		lg.Info("Seed completed successfully")
		return nil
	})
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, redisAddr string) error {
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var reserver flashsale.Reserver
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		reserver = flashsale.NewRedisReserver(client)
	}

	if err := seedCatalog(ctx, lg, pool, c, reserver); err != nil {
		return err
	}
	return seedPromotions(ctx, lg, repository.NewPromotionRepository(pool), c.Promotions)
}

func seedCatalog(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, c catalog, reserver flashsale.Reserver) error {
	products := repository.NewProductRepository(pool)

	for _, cat := range c.Categories {
		if err := products.SaveCategory(ctx, product.Category(cat)); err != nil {
			return errors.Wrapf(err, "upsert category %s", cat.ID)
		}
	}
	lg.Info("Upserted categories", zap.Int("count", len(c.Categories)))

	for _, pj := range c.Products {
		p := &product.Product{
			ID:           pj.ID,
			Name:         pj.Name,
			Price:        pj.Price,
			Categories:   pj.Categories,
			Brand:        pj.Brand,
			CountInStock: pj.CountInStock,
		}
		if s := pj.Sale; s != nil {
			if err := p.SetSale(s.SalePrice, s.StartsAt, s.EndsAt); err != nil {
				return errors.Wrapf(err, "sale for product %s", p.ID)
			}
			if s.FlashStock > 0 {
				p.Sale.Flash = &product.FlashSale{Stock: s.FlashStock, PerUserLimit: s.PerUserLimit}
			}
		}
		if err := products.Save(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		if reserver != nil && p.Sale != nil && p.Sale.Flash != nil {
			if err := reserver.Prepare(ctx, p.ID, p.Sale.Flash.Stock); err != nil {
				return errors.Wrapf(err, "prepare flash allotment for %s", p.ID)
			}
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}

	bundles := bundle.NewService(repository.NewBundleRepository(pool), products, events.Nop{})
	for _, bj := range c.Bundles {
		b := &bundle.Bundle{
			ID:          bj.ID,
			Name:        bj.Name,
			Items:       bj.Items,
			BundlePrice: bj.BundlePrice,
			IsActive:    true,
		}
		if err := bundles.Save(ctx, b); err != nil {
			return errors.Wrapf(err, "save bundle %s", b.ID)
		}
		lg.Info("Saved bundle",
			zap.String("id", b.ID),
			zap.String("original_price", b.OriginalPrice.StringFixed(2)),
			zap.Int("discount_percentage", b.DiscountPercentage),
		)
	}

	return nil
}

func seedPromotions(ctx context.Context, lg *zap.Logger, repo promotion.Repository, docs []json.RawMessage) error {
	for i, doc := range docs {
		p, err := promotion.DecodeDocument(jx.DecodeBytes(doc))
		if err != nil {
			return errors.Wrapf(err, "decode promotion %d", i)
		}
		if err := promotion.Validate(p); err != nil {
			return errors.Wrapf(err, "validate promotion %s", p.ID)
		}
		if err := repo.Save(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.ID)
		}
		lg.Info("Upserted promotion", zap.String("id", p.ID), zap.String("type", string(p.Type)))
	}
	return nil
}
