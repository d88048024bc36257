// Command migrate applies the SQL schema for the authorization server.
//
//	migrate -dsn postgres://... up
//
// Commands: up, down, seed, status. The DSN may also come from
// AUTHGATE_PG_DSN.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"authgate.dev/internal/migrate"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: migrate [flags] <command>

commands:
  up      apply pending migrations
  down    roll back all migrations
  seed    load seed data (demo tenant and client)
  status  print applied migrations and seeds`)
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	var (
		dsn        = flag.String("dsn", os.Getenv("AUTHGATE_PG_DSN"), "PostgreSQL DSN (or set AUTHGATE_PG_DSN)")
		migrations = flag.String("migrations", "ops/migrations/sql", "directory with *.up.sql / *.down.sql files")
		seeds      = flag.String("seeds", "ops/migrations/seeds", "directory with seed *.sql files")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall deadline for the command")
	)
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(2)
	}
	if *dsn == "" {
		log.Fatal("no DSN: pass -dsn or set AUTHGATE_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := run(ctx, migrate.NewManager(db, *migrations, *seeds), cmd); err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, line := range history {
			fmt.Println(line)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
