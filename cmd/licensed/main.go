package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/CodexShaper-Devs/license-sub000/internal/app"
	"github.com/CodexShaper-Devs/license-sub000/internal/config"
	"github.com/CodexShaper-Devs/license-sub000/internal/infrastructure"
)

func main() {
	migrate := flag.Bool("migrate", false, "create or update the database schema and exit")
	version := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return
	}

	ctx := context.Background()
	application, err := app.NewApplication(ctx)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	if *migrate {
		err := application.Migrate(ctx)
		if stopErr := application.Stop(ctx); stopErr != nil {
			slog.Error("Shutdown error", slog.String("error", stopErr.Error()))
		}
		if err != nil {
			slog.Error("Migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
