// Package reconcile merges asynchronous workflow-engine callbacks into
// generation records. The engine's claims are validated before they are
// persisted: a claimed completion without a usable artifact URL is recorded
// as a failure, never as a completion.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

// Reconciler applies callback events to the generations table.
type Reconciler struct {
	SQL    infra.SQLExecutor
	Logger infra.Logger
}

func NewReconciler(sql infra.SQLExecutor, logger infra.Logger) *Reconciler {
	return &Reconciler{SQL: sql, Logger: logger}
}

// ProcessCallback validates and merges one callback event, returning the
// record as persisted. Records already in a terminal state are returned
// unchanged: the engine retries deliveries, and a retry after completion
// must not resurrect or rewrite the outcome.
func (r *Reconciler) ProcessCallback(ctx context.Context, ev *CallbackEvent) (*domain.Generation, error) {
	if ev == nil || ev.GenerationID == "" {
		return nil, fmt.Errorf("%w: generationId", domain.ErrMissingField)
	}

	current, err := r.load(ctx, ev.GenerationID)
	if err != nil {
		return nil, err
	}

	if current.Status.Terminal() {
		r.Logger.Info().
			Str("generation_id", current.ID).
			Str("status", string(current.Status)).
			Msg("callback for terminal record ignored")
		return current, nil
	}

	merged := r.merge(current, ev)
	return r.persist(ctx, merged)
}

// merge computes the post-callback field set. Every write is an overwrite of
// that field, so reapplying the same event is idempotent.
func (r *Reconciler) merge(current *domain.Generation, ev *CallbackEvent) *domain.Generation {
	out := *current

	if s := domain.GenerationStatus(ev.Status); s.Valid() {
		out.Status = s
	}

	if ev.GeneratedImageURL != "" {
		if cleaned, ok := CleanImageURL(ev.GeneratedImageURL); ok {
			out.GeneratedImageURL = &cleaned
		} else {
			// The claimed status is not trusted past this point: a
			// completion without a valid artifact is a failure. The prior
			// URL, if any, is left untouched.
			msg := fmt.Sprintf("Invalid generated image URL: %s", ev.GeneratedImageURL)
			out.Status = domain.StatusFailed
			out.ErrorMessage = &msg
			r.Logger.Warn().Str("generation_id", current.ID).Msgf("rejected image url %q", ev.GeneratedImageURL)
		}
	} else if domain.GenerationStatus(ev.Status) == domain.StatusCompleted {
		msg := "Generation completed but no image URL provided"
		out.Status = domain.StatusFailed
		out.ErrorMessage = &msg
	}

	if ev.ErrorMessage != "" {
		msg := ev.ErrorMessage
		out.ErrorMessage = &msg
	}

	if v, ok := ev.QualityValue(); ok {
		out.QualityScore = &v
	}
	if v, ok := ev.ProcessingValue(); ok {
		out.ProcessingTime = &v
	}
	if md := ev.MetadataValue(); md != nil {
		out.WorkflowMetadata = md
	}
	if ev.CommercialStyle != "" {
		style := NormalizeStyleLabel(ev.CommercialStyle)
		out.CommercialStyle = &style
	}
	if ev.TargetAudience != "" {
		audience := ev.TargetAudience
		out.TargetAudience = &audience
	}
	if ev.BrandGuidelines != "" {
		guidelines := ev.BrandGuidelines
		out.BrandGuidelines = &guidelines
	}
	if ev.ExecutionID != "" {
		execID := ev.ExecutionID
		out.ExternalExecutionID = &execID
	}
	if ev.WorkflowVersion != "" {
		version := ev.WorkflowVersion
		out.WorkflowVersion = &version
	}

	return &out
}

func (r *Reconciler) load(ctx context.Context, id string) (*domain.Generation, error) {
	row := r.SQL.QueryRow(ctx, sqlinline.QSelectGenerationByID, id)
	gen, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: generation %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reconcile: load generation: %w", err)
	}
	return gen, nil
}

func (r *Reconciler) persist(ctx context.Context, gen *domain.Generation) (*domain.Generation, error) {
	row := r.SQL.QueryRow(ctx, sqlinline.QUpdateGenerationFromCallback,
		gen.ID,
		gen.Status,
		gen.GeneratedImageURL,
		gen.ErrorMessage,
		gen.QualityScore,
		gen.ProcessingTime,
		gen.CommercialStyle,
		gen.TargetAudience,
		gen.BrandGuidelines,
		nullableBytes(gen.WorkflowMetadata),
		gen.ExternalExecutionID,
		gen.WorkflowVersion,
	)
	updated, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: generation %s", domain.ErrNotFound, gen.ID)
		}
		return nil, fmt.Errorf("reconcile: persist generation: %w", err)
	}
	return updated, nil
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.OriginalImageURL,
		&gen.GeneratedImageURL,
		&gen.PromptText,
		&gen.Status,
		&gen.PaymentRef,
		&gen.ErrorMessage,
		&gen.QualityScore,
		&gen.ProcessingTime,
		&gen.CommercialStyle,
		&gen.TargetAudience,
		&gen.BrandGuidelines,
		&gen.WorkflowMetadata,
		&gen.ExternalExecutionID,
		&gen.WorkflowVersion,
		&gen.CreatedAt,
		&gen.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// ScanGeneration exposes row scanning for callers that load generations
// through their own queries.
func ScanGeneration(row pgx.Row) (*domain.Generation, error) {
	return scanGeneration(row)
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
