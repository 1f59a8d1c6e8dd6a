package models

import "time"

type GenerationMode string

const (
	ModeSingle GenerationMode = "single"
	ModeStudio GenerationMode = "studio"
)

// Actor identifies whose credits and artifacts are being tracked: an
// authenticated user or an anonymous test-drive guest.
type Actor struct {
	ID        string
	Anonymous bool
	Token     string
}

func (a Actor) Authenticated() bool {
	return !a.Anonymous && a.ID != ""
}

type User struct {
	ID        string
	Email     string
	APIToken  string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReferenceImage is an uploaded reference passed to the generation backend.
type ReferenceImage struct {
	Data []byte
	Mime string
}

// GenerationRequest is built transiently from client input and consumed once
// per invocation attempt; retries reuse the same payload.
type GenerationRequest struct {
	Images     []ReferenceImage
	Themes     []string
	Prompt     string
	Mode       GenerationMode
	TemplateID string
}

// Artifact is a generated image once committed: charged and recorded.
type Artifact struct {
	ID           string
	OwnerID      string
	URL          string
	Prompt       string
	ReferenceURL string
	CreatedAt    time.Time
}

// BatchReport summarizes a studio run. CreditsDeducted never exceeds
// Succeeded, which never exceeds Requested. Artifacts holds only the items
// committed by this run, one per deducted credit.
type BatchReport struct {
	Requested       int
	Succeeded       int
	CreditsDeducted int
	Artifacts       []Artifact
}

type CreditPackage struct {
	ID              int64
	Title           string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Payment struct {
	ID             int64
	UserID         string
	PackageID      *int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReferralCode struct {
	ID        int64
	Code      string
	MaxUses   int
	Uses      int
	Credits   int
	CreatedAt time.Time
}
