package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/models"
)

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) List(ctx context.Context) ([]models.CreditPackage, error) {
	const query = `
SELECT id, title, currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packages
ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.CreditPackage
	for rows.Next() {
		var pkg models.CreditPackage
		if err := rows.Scan(&pkg.ID, &pkg.Title, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, pkg)
	}
	return packages, rows.Err()
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	const query = `
SELECT id, title, currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packages
WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var pkg models.CreditPackage
	if err := row.Scan(&pkg.ID, &pkg.Title, &pkg.Currency, &pkg.PriceMinorUnits, &pkg.Credits, &pkg.IsActive, &pkg.CreatedAt, &pkg.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
INSERT INTO credit_packages (title, currency, price_minor_units, credits, is_active)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Currency, pkg.PriceMinorUnits, pkg.Credits, pkg.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM credit_packages WHERE is_active = 1`
	row := r.db.QueryRowContext(ctx, query)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active packages: %w", err)
	}
	return count, nil
}
