// Package api exposes the generation workflow over HTTP. Authenticated
// actors present a bearer API token; anonymous test-drive guests identify
// themselves with an X-Guest-ID header.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/cesardomingos/imagenius/internal/config"
	"github.com/cesardomingos/imagenius/internal/genbackend"
	"github.com/cesardomingos/imagenius/internal/ledger"
	"github.com/cesardomingos/imagenius/internal/models"
	"github.com/cesardomingos/imagenius/internal/repository"
	"github.com/cesardomingos/imagenius/internal/service"
)

type Server struct {
	cfg         config.Config
	log         *slog.Logger
	users       *repository.UserRepository
	artifacts   *repository.ArtifactRepository
	credits     *ledger.Accessor
	generations *service.GenerationService
	packages    *service.PackageService
	payments    *service.PaymentService
	referrals   *service.ReferralService
	router      *chi.Mux
}

func NewServer(
	cfg config.Config,
	log *slog.Logger,
	users *repository.UserRepository,
	artifacts *repository.ArtifactRepository,
	credits *ledger.Accessor,
	generations *service.GenerationService,
	packages *service.PackageService,
	payments *service.PaymentService,
	referrals *service.ReferralService,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:         cfg,
		log:         log,
		users:       users,
		artifacts:   artifacts,
		credits:     credits,
		generations: generations,
		packages:    packages,
		payments:    payments,
		referrals:   referrals,
		router:      r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/payments", s.handlePaymentWebhook)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/packages", s.handleListPackages)
		v1.Get("/balance", s.handleBalance)
		v1.Get("/artifacts", s.handleListArtifacts)
		v1.Post("/prompts/suggest", s.handleSuggestPrompts)
		v1.Post("/generations", s.handleGenerateSingle)
		v1.Post("/generations/batch", s.handleGenerateBatch)
		v1.Get("/preview", s.handleGetPreview)
		v1.Post("/preview/accept", s.handleAcceptPreview)
		v1.Post("/preview/reject", s.handleRejectPreview)
		v1.Post("/referrals/redeem", s.handleRedeemReferral)
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// actor resolves the caller: bearer token wins, X-Guest-ID marks a guest.
// A brand-new token provisions an account with the signup allowance.
func (s *Server) actor(r *http.Request) (models.Actor, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		token := authz[len(prefix):]
		user, _, err := s.users.EnsureByToken(r.Context(), token, "", s.cfg.NewUserCredits)
		if err != nil {
			return models.Actor{}, err
		}
		return models.Actor{ID: user.ID, Token: token}, nil
	}

	if guestID := r.Header.Get("X-Guest-ID"); guestID != "" {
		return models.Actor{ID: "guest:" + guestID, Anonymous: true}, nil
	}
	return models.Actor{ID: "guest:" + uuid.NewString(), Anonymous: true}, nil
}

type imageInput struct {
	Data string `json:"data"`
	Mime string `json:"mime"`
}

type generationInput struct {
	Images     []imageInput `json:"images"`
	Themes     []string     `json:"themes"`
	Prompt     string       `json:"prompt"`
	Prompts    []string     `json:"prompts"`
	TemplateID string       `json:"template_id"`
}

func (in generationInput) toRequest(mode models.GenerationMode) (models.GenerationRequest, error) {
	req := models.GenerationRequest{
		Themes:     in.Themes,
		Prompt:     in.Prompt,
		Mode:       mode,
		TemplateID: in.TemplateID,
	}
	for i, img := range in.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return req, fmt.Errorf("image %d is not valid base64", i)
		}
		req.Images = append(req.Images, models.ReferenceImage{Data: data, Mime: img.Mime})
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSuggestPrompts(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var in generationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req, err := in.toRequest(models.ModeSingle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	prompts, err := s.generations.SuggestPrompts(r.Context(), actor, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (s *Server) handleGenerateSingle(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var in generationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req, err := in.toRequest(models.ModeSingle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	preview, err := s.generations.GenerateSingle(r.Context(), actor, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": previewResponse(preview),
	})
}

func (s *Server) handleGenerateBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var in generationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req, err := in.toRequest(models.ModeStudio)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.generations.RunBatch(r.Context(), actor, req, in.Prompts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requested":        report.Requested,
		"succeeded":        report.Succeeded,
		"credits_deducted": report.CreditsDeducted,
		"artifacts":        report.Artifacts,
	})
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preview": previewResponse(s.generations.ActivePreview(actor)),
	})
}

func (s *Server) handleAcceptPreview(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	artifact, err := s.generations.AcceptPreview(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}

	balance, _ := s.credits.CachedBalance(actor)
	writeJSON(w, http.StatusOK, map[string]any{
		"artifact": artifact,
		"balance":  balance,
	})
}

func (s *Server) handleRejectPreview(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.generations.RejectPreview(actor)
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	balance, err := s.credits.Balance(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Guests only ever have the session gallery.
	if actor.Anonymous {
		writeJSON(w, http.StatusOK, map[string]any{"artifacts": s.generations.Gallery().List(actor.ID)})
		return
	}

	artifacts, err := s.artifacts.ListByOwner(r.Context(), actor.ID, 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.packages.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": packages})
}

func (s *Server) handleRedeemReferral(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !actor.Authenticated() {
		http.Error(w, "sign in to redeem a referral code", http.StatusUnauthorized)
		return
	}

	var in struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	granted, err := s.referrals.Redeem(r.Context(), actor.ID, in.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits_granted": granted})
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.PaymentWebhookSecret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var event service.CheckoutEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	event.RawPayload = string(body)

	if err := s.payments.HandleCheckoutCompleted(r.Context(), event); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func previewResponse(preview *service.PendingPreview) any {
	if preview == nil {
		return nil
	}
	return map[string]any{
		"image_url":     preview.ImageURL,
		"prompt":        preview.Prompt,
		"reference_url": preview.ReferenceURL,
		"created_at":    preview.CreatedAt,
	}
}

// writeError maps workflow errors onto HTTP statuses. Precondition failures
// are 4xx, transient backend exhaustion is 503, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var apiErr *genbackend.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		switch apiErr.Kind {
		case genbackend.KindUnauthenticated:
			status = http.StatusUnauthorized
		case genbackend.KindInvalid:
			status = http.StatusBadRequest
		case genbackend.KindRateLimited:
			status = http.StatusTooManyRequests
		case genbackend.KindOverloaded:
			status = http.StatusServiceUnavailable
		}
		http.Error(w, apiErr.Message, status)
		return
	}

	switch {
	case errors.Is(err, service.ErrNoReferenceImage),
		errors.Is(err, service.ErrNoTheme),
		errors.Is(err, service.ErrNoPrompt),
		errors.Is(err, service.ErrTooManyImages):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrInsufficientCredits):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrPreviewPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrNoActivePreview):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrNoImage):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrOffline):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, service.ErrReferralInvalid),
		errors.Is(err, service.ErrUnknownPackage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrReferralAlreadyRedeemed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrPaymentNotCompleted):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("internal error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
