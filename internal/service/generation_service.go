package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/models"
)

var (
	ErrOffline             = errors.New("generation backend unreachable")
	ErrNoReferenceImage    = errors.New("at least one reference image is required")
	ErrNoTheme             = errors.New("at least one theme is required")
	ErrNoPrompt            = errors.New("prompt cannot be empty")
	ErrTooManyImages       = errors.New("too many reference images")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPreviewPending      = errors.New("a preview is already awaiting confirmation")
	ErrNoActivePreview     = errors.New("no preview awaiting confirmation")
	ErrNoImage             = errors.New("backend produced no image")
)

// Suggester produces prompt ideas from reference images and themes.
type Suggester interface {
	SuggestPrompts(ctx context.Context, token string, images []models.ReferenceImage, themes []string, templateID string) ([]string, error)
}

// ImageGenerator renders a final image from a prompt. An empty URL with nil
// error means the backend had no result.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, token string, images []models.ReferenceImage, prompt string, mode models.GenerationMode) (string, error)
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// HealthChecker reports whether the generation backend is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// ArtifactStore persists committed artifacts for authenticated actors.
type ArtifactStore interface {
	Save(ctx context.Context, artifact models.Artifact) error
}

// Mirror copies image bytes into durable storage and returns the new URL.
type Mirror interface {
	Upload(ctx context.Context, ownerID string, data []byte, contentType string) (string, error)
}

// PendingPreview holds a generated image awaiting the user's accept or
// reject. No credit has been spent while it exists.
type PendingPreview struct {
	ImageURL     string
	Prompt       string
	ReferenceURL string
	CreatedAt    time.Time
}

// GenerationService sequences the credit-gated generation workflow: credit
// pre-check, backend invocation, preview gating in single mode, per-item
// charging in studio mode.
type GenerationService struct {
	log       *slog.Logger
	credits   *ledger.Accessor
	suggester Suggester
	generator ImageGenerator
	health    HealthChecker
	artifacts ArtifactStore
	mirror    Mirror
	gallery   *Gallery
	notifier  Notifier
	progress  ProgressSink
	maxImages int

	mu       sync.Mutex
	previews map[string]*PendingPreview
}

type GenerationServiceParams struct {
	Log       *slog.Logger
	Credits   *ledger.Accessor
	Suggester Suggester
	Generator ImageGenerator
	Health    HealthChecker
	Artifacts ArtifactStore
	Mirror    Mirror
	Gallery   *Gallery
	Notifier  Notifier
	Progress  ProgressSink
	MaxImages int
}

func NewGenerationService(p GenerationServiceParams) *GenerationService {
	if p.Gallery == nil {
		p.Gallery = NewGallery()
	}
	if p.Notifier == nil {
		p.Notifier = LogNotifier{Log: p.Log}
	}
	if p.Progress == nil {
		p.Progress = LogProgress{Log: p.Log}
	}
	if p.MaxImages <= 0 {
		p.MaxImages = 5
	}
	return &GenerationService{
		log:       p.Log,
		credits:   p.Credits,
		suggester: p.Suggester,
		generator: p.Generator,
		health:    p.Health,
		artifacts: p.Artifacts,
		mirror:    p.Mirror,
		gallery:   p.Gallery,
		notifier:  p.Notifier,
		progress:  p.Progress,
		maxImages: p.MaxImages,
		previews:  make(map[string]*PendingPreview),
	}
}

func (s *GenerationService) Gallery() *Gallery {
	return s.gallery
}

// SuggestPrompts validates preconditions and asks the backend for prompt
// ideas. Nothing is charged for suggestions.
func (s *GenerationService) SuggestPrompts(ctx context.Context, actor models.Actor, req models.GenerationRequest) ([]string, error) {
	if err := s.checkReferences(req.Images); err != nil {
		return nil, err
	}
	if len(nonEmpty(req.Themes)) == 0 {
		return nil, ErrNoTheme
	}
	if !s.online(ctx) {
		s.notifier.Notify(NotifyError, "You appear to be offline. Check your connection and try again.")
		return nil, ErrOffline
	}

	prompts, err := s.suggester.SuggestPrompts(ctx, actor.Token, req.Images, nonEmpty(req.Themes), req.TemplateID)
	if err != nil {
		return nil, err
	}
	return prompts, nil
}

// GenerateSingle runs one generation and parks the result behind the preview
// gate. The credit is only spent on AcceptPreview.
func (s *GenerationService) GenerateSingle(ctx context.Context, actor models.Actor, req models.GenerationRequest) (*PendingPreview, error) {
	if err := s.checkReferences(req.Images); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrNoPrompt
	}
	if s.activePreview(actor) != nil {
		return nil, ErrPreviewPending
	}
	if !s.online(ctx) {
		s.notifier.Notify(NotifyError, "You appear to be offline. Check your connection and try again.")
		return nil, ErrOffline
	}

	balance, err := s.credits.Balance(ctx, actor)
	if err != nil {
		return nil, err
	}
	if balance < 1 {
		s.notifier.Notify(NotifyWarning, "You are out of credits. Top up to keep generating.")
		return nil, ErrInsufficientCredits
	}

	s.progress.Progress(1, 1, "generating")
	imageURL, err := s.generator.GenerateImage(ctx, actor.Token, req.Images, req.Prompt, models.ModeSingle)
	if err != nil {
		return nil, err
	}
	if imageURL == "" {
		s.notifier.Notify(NotifyWarning, "The backend returned no image for this prompt. Try a different one.")
		return nil, ErrNoImage
	}

	preview := &PendingPreview{
		ImageURL:  imageURL,
		Prompt:    req.Prompt,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.previews[actor.ID] = preview
	s.mu.Unlock()

	s.progress.Progress(1, 1, "preview")
	return preview, nil
}

// AcceptPreview charges one credit for the pending preview and commits the
// artifact. The preview is claimed under the lock before the charge so
// concurrent accepts cannot both spend on the same image. A failed deduction
// puts the preview back so the user can retry the accept.
func (s *GenerationService) AcceptPreview(ctx context.Context, actor models.Actor) (*models.Artifact, error) {
	preview := s.takePreview(actor)
	if preview == nil {
		return nil, ErrNoActivePreview
	}

	ok, err := s.credits.Deduct(ctx, actor, 1)
	if err != nil {
		s.restorePreview(actor, preview)
		s.notifier.Notify(NotifyError, "Could not charge your credit. The image is still here; try again.")
		return nil, err
	}
	if !ok {
		s.restorePreview(actor, preview)
		s.notifier.Notify(NotifyWarning, "You are out of credits. Top up to keep this image.")
		return nil, ErrInsufficientCredits
	}

	artifact := s.commitArtifact(ctx, actor, preview.ImageURL, preview.Prompt, preview.ReferenceURL)

	s.notifier.Notify(NotifySuccess, "Image saved to your gallery. 1 credit spent.")
	return &artifact, nil
}

// RejectPreview discards the pending preview without charging. Calling it
// again after the preview is gone is a no-op.
func (s *GenerationService) RejectPreview(actor models.Actor) {
	s.mu.Lock()
	_, existed := s.previews[actor.ID]
	delete(s.previews, actor.ID)
	s.mu.Unlock()

	if existed {
		s.notifier.Notify(NotifyInfo, "Image discarded. No credit was spent.")
	}
}

// ActivePreview returns the actor's pending preview, if any.
func (s *GenerationService) ActivePreview(actor models.Actor) *PendingPreview {
	return s.activePreview(actor)
}

// RunBatch generates the selected prompts sequentially, charging one credit
// per successful item. A single item's failure never aborts the batch.
func (s *GenerationService) RunBatch(ctx context.Context, actor models.Actor, req models.GenerationRequest, prompts []string) (models.BatchReport, error) {
	report := models.BatchReport{Requested: len(prompts)}

	if err := s.checkReferences(req.Images); err != nil {
		return report, err
	}
	if len(prompts) == 0 {
		return report, ErrNoPrompt
	}
	if !s.online(ctx) {
		s.notifier.Notify(NotifyError, "You appear to be offline. Check your connection and try again.")
		return report, ErrOffline
	}

	balance, err := s.credits.Balance(ctx, actor)
	if err != nil {
		return report, err
	}
	if balance < len(prompts) {
		s.notifier.Notify(NotifyWarning,
			fmt.Sprintf("You need %d credits for this batch but have %d. Top up to continue.", len(prompts), balance))
		return report, ErrInsufficientCredits
	}

	for i, prompt := range prompts {
		s.progress.Progress(i+1, len(prompts), "generating")

		imageURL, err := s.generator.GenerateImage(ctx, actor.Token, req.Images, prompt, models.ModeStudio)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.log.Warn("batch item failed", "index", i, "err", err)
			continue
		}
		if imageURL == "" {
			s.log.Warn("batch item produced no image", "index", i)
			continue
		}
		report.Succeeded++

		ok, err := s.credits.Deduct(ctx, actor, 1)
		if err != nil || !ok {
			// Generated but not charged: the item is lost, the batch goes on.
			s.log.Warn("batch item generated but not charged", "index", i, "err", err)
			continue
		}
		report.CreditsDeducted++

		report.Artifacts = append(report.Artifacts, s.commitArtifact(ctx, actor, imageURL, prompt, ""))
	}

	s.notifyBatchSummary(report)
	return report, nil
}

func (s *GenerationService) notifyBatchSummary(report models.BatchReport) {
	if report.Succeeded == 0 {
		s.notifier.Notify(NotifyWarning, "No images could be created. You were not charged.")
		return
	}
	s.notifier.Notify(NotifySuccess,
		fmt.Sprintf("%d of %d images created, %d credits spent.",
			report.Succeeded, report.Requested, report.CreditsDeducted))
}

// commitArtifact runs after a successful deduction: mirror the image into
// durable storage when configured, persist the record for authenticated
// actors, and append to the session gallery. Mirror and persistence failures
// are logged only; they never roll back the charge.
func (s *GenerationService) commitArtifact(ctx context.Context, actor models.Actor, imageURL, prompt, referenceURL string) models.Artifact {
	artifact := models.Artifact{
		ID:           uuid.NewString(),
		OwnerID:      actor.ID,
		URL:          imageURL,
		Prompt:       prompt,
		ReferenceURL: referenceURL,
		CreatedAt:    time.Now().UTC(),
	}

	if s.mirror != nil && actor.Authenticated() {
		if data, contentType, err := s.generator.FetchImage(ctx, imageURL); err != nil {
			s.log.Warn("mirror fetch failed", "artifact", artifact.ID, "err", err)
		} else if mirrored, err := s.mirror.Upload(ctx, actor.ID, data, contentType); err != nil {
			s.log.Warn("mirror upload failed", "artifact", artifact.ID, "err", err)
		} else {
			artifact.URL = mirrored
		}
	}

	if s.artifacts != nil && actor.Authenticated() {
		if err := s.artifacts.Save(ctx, artifact); err != nil {
			s.log.Warn("artifact persistence failed", "artifact", artifact.ID, "err", err)
		}
	}

	s.gallery.Append(actor.ID, artifact)
	return artifact
}

func (s *GenerationService) activePreview(actor models.Actor) *PendingPreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previews[actor.ID]
}

// takePreview removes and returns the actor's pending preview in one step so
// exactly one accept can claim it.
func (s *GenerationService) takePreview(actor models.Actor) *PendingPreview {
	s.mu.Lock()
	defer s.mu.Unlock()
	preview := s.previews[actor.ID]
	delete(s.previews, actor.ID)
	return preview
}

// restorePreview puts a claimed preview back after a failed charge, unless a
// newer one arrived in the meantime.
func (s *GenerationService) restorePreview(actor models.Actor, preview *PendingPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.previews[actor.ID]; !exists {
		s.previews[actor.ID] = preview
	}
}

func (s *GenerationService) checkReferences(images []models.ReferenceImage) error {
	if len(images) == 0 {
		return ErrNoReferenceImage
	}
	if len(images) > s.maxImages {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManyImages, len(images), s.maxImages)
	}
	return nil
}

func (s *GenerationService) online(ctx context.Context) bool {
	if s.health == nil {
		return true
	}
	return s.health.Healthy(ctx)
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
