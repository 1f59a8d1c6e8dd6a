package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cesardomingos/imagenius/internal/models"
)

type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) Save(ctx context.Context, artifact models.Artifact) error {
	const query = `
INSERT INTO artifacts (id, user_id, image_url, prompt, reference_url)
VALUES (?, ?, ?, ?, NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, artifact.ID, artifact.OwnerID, artifact.URL, artifact.Prompt, artifact.ReferenceURL); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's artifacts, newest first.
func (r *ArtifactRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Artifact, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, user_id, image_url, prompt, COALESCE(reference_url, ''), created_at
FROM artifacts WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.URL, &a.Prompt, &a.ReferenceURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
