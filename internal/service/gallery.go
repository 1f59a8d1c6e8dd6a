package service

import (
	"sync"

	"github.com/cesardomingos/imagenius/internal/models"
)

// Gallery keeps each actor's artifacts of the current session in memory,
// newest first, regardless of whether remote persistence succeeded.
type Gallery struct {
	mu    sync.RWMutex
	items map[string][]models.Artifact
}

func NewGallery() *Gallery {
	return &Gallery{items: make(map[string][]models.Artifact)}
}

func (g *Gallery) Append(ownerID string, artifact models.Artifact) {
	g.mu.Lock()
	g.items[ownerID] = append([]models.Artifact{artifact}, g.items[ownerID]...)
	g.mu.Unlock()
}

func (g *Gallery) List(ownerID string) []models.Artifact {
	g.mu.RLock()
	defer g.mu.RUnlock()
	items := g.items[ownerID]
	out := make([]models.Artifact, len(items))
	copy(out, items)
	return out
}
