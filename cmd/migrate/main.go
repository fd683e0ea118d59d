// migrate applies the embedded SQL migrations to DATABASE_URL. Run via go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"leadflow/backend/internal/config"
	"leadflow/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", migrate.Up, "Migration direction: up or down")
	showVersion := flag.Bool("version", false, "Print the applied schema version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if *showVersion {
		v, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("no migrations applied")
			return
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
		return
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
