// Command authgate-purge deletes expired remember tokens and password reset
// records from an authgate-managed database. Run it once from cron, or give
// it an interval to keep running.
//
//	authgate-purge -driver mysql -dsn 'app:secret@tcp(127.0.0.1:3306)/app?parseTime=true'
//	authgate-purge -driver sqlite -dsn file:app.db -interval 1h
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/hexlane/authgate"
	"github.com/hexlane/authgate/store"
)

func main() {
	var (
		driver   = flag.String("driver", "mysql", "database driver: mysql or sqlite")
		dsn      = flag.String("dsn", "", "database DSN; DATABASE_DSN env when empty")
		table    = flag.String("table", "", "user table name override")
		interval = flag.Duration("interval", 0, "rerun interval; run once when 0")
	)
	flag.Parse()

	connStr := *dsn
	if connStr == "" {
		connStr = os.Getenv("DATABASE_DSN")
	}
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "a DSN is required (-dsn or DATABASE_DSN)")
		os.Exit(2)
	}

	var dialect store.Dialect
	switch *driver {
	case "mysql":
		dialect = store.MySQL{}
	case "sqlite":
		dialect = store.SQLite{}
	default:
		fmt.Fprintf(os.Stderr, "unknown driver %q\n", *driver)
		os.Exit(2)
	}

	db, err := sql.Open(*driver, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg, err := authgate.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *table != "" {
		cfg.Schema.Table = *table
	}

	engine, err := authgate.New().
		WithConfig(cfg).
		WithDB(db, dialect).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := purgeOnce(ctx, engine); err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		os.Exit(1)
	}
	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := purgeOnce(ctx, engine); err != nil {
				fmt.Fprintf(os.Stderr, "purge: %v\n", err)
			}
		}
	}
}

func purgeOnce(ctx context.Context, engine *authgate.Engine) error {
	start := time.Now()
	remember, resets, err := engine.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d remember tokens and %d reset records in %s\n",
		remember, resets, time.Since(start).Round(time.Millisecond))
	return nil
}
