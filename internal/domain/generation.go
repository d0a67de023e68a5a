package domain

import "time"

// GenerationStatus enumerates generation lifecycle states.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// Terminal reports whether no further transition is expected from the status.
func (s GenerationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is one of the known lifecycle states.
func (s GenerationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Generation is the persisted row representing one user's request to
// transform a product image through the external workflow engine.
// The row is created pending, mutated at most once by a trigger failure
// and afterwards only by callback reconciliation.
type Generation struct {
	ID                  string
	UserID              string
	OriginalImageURL    string
	GeneratedImageURL   *string
	PromptText          string
	Status              GenerationStatus
	PaymentRef          *string
	ErrorMessage        *string
	QualityScore        *float64
	ProcessingTime      *int64
	CommercialStyle     *string
	TargetAudience      *string
	BrandGuidelines     *string
	WorkflowMetadata    []byte
	ExternalExecutionID *string
	WorkflowVersion     *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
