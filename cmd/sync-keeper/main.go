package main

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-sync-keeper/internal/config"
	"github.com/MKhiriev/go-sync-keeper/internal/logger"
	"github.com/MKhiriev/go-sync-keeper/internal/service"
	"github.com/MKhiriev/go-sync-keeper/internal/store"
	"github.com/MKhiriev/go-sync-keeper/models"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("sync-keeper")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	storages, err := store.NewStorages(cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create local storage")
	}
	defer storages.Close()

	services := service.NewService(storages, cfg.Sync, log)

	ctx := log.WithContext(context.Background())
	printCollectionStatus(ctx, "contacts", services.Contacts.LastSync)
	printCollectionStatus(ctx, "history", services.History.LastSync)
	printCollectionStatus(ctx, "bookmarks", services.Bookmarks.LastSync)
}

func printCollectionStatus(ctx context.Context, name string, lastSync func(context.Context) (models.ServerTimestamp, bool, error)) {
	log := logger.FromContext(ctx)

	when, found, err := lastSync(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("collection", name).Msg("error reading sync state")
	}
	if !found {
		fmt.Printf("%s: never synced\n", name)
		return
	}
	fmt.Printf("%s: last synced at %d\n", name, int64(when))
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
