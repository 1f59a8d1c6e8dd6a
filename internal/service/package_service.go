package service

import (
	"context"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/config"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/repository"
)

// PackageService manages the purchasable credit packages.
type PackageService struct {
	cfg      config.Config
	packages *repository.PackageRepository
}

func NewPackageService(cfg config.Config, packages *repository.PackageRepository) *PackageService {
	return &PackageService{cfg: cfg, packages: packages}
}

func (s *PackageService) List(ctx context.Context) ([]models.CreditPackage, error) {
	return s.packages.List(ctx)
}

func (s *PackageService) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	return s.packages.GetByID(ctx, id)
}

// EnsureDefaultPackage seeds the catalog on first boot so the top-up flow
// always has something to sell.
func (s *PackageService) EnsureDefaultPackage(ctx context.Context) error {
	count, err := s.packages.CountActive(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err = s.packages.Create(ctx, &models.CreditPackage{
		Title:           s.cfg.DefaultPackageTitle,
		Currency:        s.cfg.PaymentCurrency,
		PriceMinorUnits: s.cfg.DefaultPackagePrice,
		Credits:         s.cfg.DefaultPackageCredits,
		IsActive:        true,
	})
	if err != nil {
		return fmt.Errorf("seed default package: %w", err)
	}
	return nil
}
