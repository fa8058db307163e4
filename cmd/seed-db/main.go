// Command seed-db loads catalog, user and address fixtures into PostgreSQL and
// optionally prints a development session token.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/agromarket/internal/auth"
	"github.com/xenking/agromarket/internal/domain/address"
	"github.com/xenking/agromarket/internal/seed"
	"github.com/xenking/agromarket/internal/storage/postgres"
)

type options struct {
	databaseURL string
	file        string
	tokenFor    string
	jwtSecret   string
	tokenTTL    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.file, "file", "", "fixtures file (.json or .json.gz), built-in demo data when empty")
	flag.StringVar(&opts.tokenFor, "token-for", "", "print a session token for this user id")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 secret for --token-for (or SHOP_AUTH_JWT_SECRET env)")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "validity of the printed token")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("SHOP_AUTH_JWT_SECRET")
	}

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	if opts.databaseURL == "" && opts.tokenFor == "" {
		return errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.databaseURL != "" {
		if err := seedDatabase(ctx, lg, opts); err != nil {
			return err
		}
	}
	if opts.tokenFor == "" {
		return nil
	}

	v, err := auth.NewVerifier(opts.jwtSecret, "")
	if err != nil {
		return errors.Wrap(err, "token")
	}
	token, err := v.Issue(opts.tokenFor, nil, opts.tokenTTL)
	if err != nil {
		return err
	}
	lg.Info("Issued token", zap.String("user_id", opts.tokenFor), zap.Duration("ttl", opts.tokenTTL))
	_, _ = fmt.Fprintln(os.Stdout, token)
	return nil
}

func seedDatabase(ctx context.Context, lg *zap.Logger, opts options) error {
	data := seed.Demo()
	if opts.file != "" {
		lg.Info("Reading fixtures", zap.String("path", opts.file))
		d, err := seed.LoadFile(opts.file)
		if err != nil {
			return errors.Wrap(err, "load fixtures")
		}
		data = d
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStore(pool)
	products := store.Products()
	sink := seed.Sink{
		PutCategory: products.PutCategory,
		PutProduct:  products.Put,
		PutUser:     store.Users().Put,
		Addresses:   address.NewService(store.Addresses()),
	}
	if err := seed.Apply(ctx, sink, data); err != nil {
		return err
	}

	lg.Info("Seed completed",
		zap.Int("categories", len(data.Categories)),
		zap.Int("products", len(data.Products)),
		zap.Int("users", len(data.Users)),
	)
	return nil
}
