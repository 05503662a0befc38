package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"raffler/cmd"
	"raffler/database"
)

const usage = `usage:
  raffler                    run the raffle service
  raffler migrate up         apply all pending migrations
  raffler migrate down [n]   roll back n migrations (default 1)
  raffler migrate status     print the current schema version`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := runMigrate(os.Args[2:]); err != nil {
				log.Fatalf("raffler migrate: %v", err)
			}
			return
		case "help", "-h", "--help":
			fmt.Println(usage)
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
			os.Exit(2)
		}
	}

	// Interrupt and SIGTERM cancel ctx; Run then stops the worker and flushes metrics
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx); err != nil {
		log.Fatalf("raffler stopped: %v", err)
	}
}

func runMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate command\n%s", usage)
	}

	switch args[0] {
	case "up":
		return database.MigrateUp()
	case "down":
		steps := "1"
		if len(args) > 1 {
			steps = args[1]
		}
		return database.MigrateDown(steps)
	case "status":
		return database.MigrateStatus()
	default:
		return fmt.Errorf("unknown migrate command %q\n%s", args[0], usage)
	}
}
