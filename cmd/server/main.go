package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/cesardomingos/imagenius/internal/api"
	"github.com/cesardomingos/imagenius/internal/config"
	"github.com/cesardomingos/imagenius/internal/database"
	"github.com/cesardomingos/imagenius/internal/gemini"
	"github.com/cesardomingos/imagenius/internal/genbackend"
	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/repository"
	"github.com/cesardomingos/imagenius/internal/service"
	"github.com/cesardomingos/imagenius/internal/storage"
	"github.com/cesardomingos/imagenius/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	backend := genbackend.NewClient(cfg, logr)

	userRepo := repository.NewUserRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	referralRepo := repository.NewReferralRepository(db)

	guests := ledger.NewGuestWallet(cfg.GuestCredits)
	credits := ledger.NewAccessor(userRepo, guests, cfg.NewUserCredits, logr)

	var suggester service.Suggester = backend
	if cfg.PromptProvider == "gemini" {
		suggester = gemini.NewSuggester(cfg, logr)
	}

	var mirror service.Mirror
	if cfg.MirrorEnabled() {
		uploader, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		mirror = uploader
	}

	generationService := service.NewGenerationService(service.GenerationServiceParams{
		Log:       logr,
		Credits:   credits,
		Suggester: suggester,
		Generator: backend,
		Health:    backend,
		Artifacts: artifactRepo,
		Mirror:    mirror,
		MaxImages: cfg.MaxReferenceImages,
	})
	packageService := service.NewPackageService(cfg, packageRepo)
	paymentService := service.NewPaymentService(logr, paymentRepo, packageService, credits)
	referralService := service.NewReferralService(referralRepo, credits)

	if err := packageService.EnsureDefaultPackage(ctx); err != nil {
		log.Fatalf("ensure default package: %v", err)
	}

	server := api.NewServer(cfg, logr, userRepo, artifactRepo, credits, generationService, packageService, paymentService, referralService)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
