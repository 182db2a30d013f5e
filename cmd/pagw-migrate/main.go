// Command pagw-migrate applies, rolls back, or reports the status of PAGW's
// Postgres schema migrations (internal/migrations), ahead of any other PAGW
// process starting against a fresh database.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/database"
	"github.com/priorauth/pagw/internal/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	dbCfg := &database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}
	dbCfg.LoadFromEnv()
	if dbCfg.MaxOpenConns == 0 {
		dbCfg.MaxOpenConns = 5
	}

	db, err := sql.Open("pgx", dbCfg.ConnectionString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "up":
		err = migrations.Up(db)
	case "down":
		err = migrations.Down(db)
	case "status":
		err = migrations.Status(db)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q: expected one of up, down, status\n", command)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}
