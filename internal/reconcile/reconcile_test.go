package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// generationStore fakes the generations table for a single record.
type generationStore struct {
	gen *domain.Generation
}

func (s *generationStore) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (s *generationStore) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (s *generationStore) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	switch {
	case strings.Contains(query, "update generations"):
		if s.gen == nil || s.gen.ID != args[0].(string) {
			return stubRow{}
		}
		s.applyUpdate(args)
		return stubRow{scan: s.scanInto}
	case strings.Contains(query, "select"):
		if s.gen == nil || s.gen.ID != args[0].(string) {
			return stubRow{}
		}
		return stubRow{scan: s.scanInto}
	}
	return stubRow{scan: func(...any) error { return errors.New("unexpected query") }}
}

func (s *generationStore) applyUpdate(args []any) {
	s.gen.Status = args[1].(domain.GenerationStatus)
	s.gen.GeneratedImageURL = args[2].(*string)
	s.gen.ErrorMessage = args[3].(*string)
	s.gen.QualityScore = args[4].(*float64)
	s.gen.ProcessingTime = args[5].(*int64)
	s.gen.CommercialStyle = args[6].(*string)
	s.gen.TargetAudience = args[7].(*string)
	s.gen.BrandGuidelines = args[8].(*string)
	if b, ok := args[9].([]byte); ok {
		s.gen.WorkflowMetadata = b
	} else {
		s.gen.WorkflowMetadata = nil
	}
	s.gen.ExternalExecutionID = args[10].(*string)
	s.gen.WorkflowVersion = args[11].(*string)
	s.gen.UpdatedAt = time.Now()
}

func (s *generationStore) scanInto(dest ...any) error {
	g := s.gen
	*dest[0].(*string) = g.ID
	*dest[1].(*string) = g.UserID
	*dest[2].(*string) = g.OriginalImageURL
	*dest[3].(**string) = copyStr(g.GeneratedImageURL)
	*dest[4].(*string) = g.PromptText
	*dest[5].(*domain.GenerationStatus) = g.Status
	*dest[6].(**string) = copyStr(g.PaymentRef)
	*dest[7].(**string) = copyStr(g.ErrorMessage)
	*dest[8].(**float64) = copyF64(g.QualityScore)
	*dest[9].(**int64) = copyI64(g.ProcessingTime)
	*dest[10].(**string) = copyStr(g.CommercialStyle)
	*dest[11].(**string) = copyStr(g.TargetAudience)
	*dest[12].(**string) = copyStr(g.BrandGuidelines)
	*dest[13].(*[]byte) = append([]byte(nil), g.WorkflowMetadata...)
	*dest[14].(**string) = copyStr(g.ExternalExecutionID)
	*dest[15].(**string) = copyStr(g.WorkflowVersion)
	*dest[16].(*time.Time) = g.CreatedAt
	*dest[17].(*time.Time) = g.UpdatedAt
	return nil
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyF64(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyI64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func pendingGeneration() *domain.Generation {
	return &domain.Generation{
		ID:               "gen-1",
		UserID:           "user-1",
		OriginalImageURL: "https://cdn.example.com/user-1/original.png",
		PromptText:       "studio lighting",
		Status:           domain.StatusPending,
		CreatedAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestReconciler(store *generationStore) *Reconciler {
	return NewReconciler(store, zerolog.New(io.Discard))
}

func decodeEvent(t *testing.T, payload string) *CallbackEvent {
	t.Helper()
	var ev CallbackEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &ev
}

func TestProcessCallbackMissingGenerationID(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	_, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{"status":"completed"}`))
	if !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if store.gen.Status != domain.StatusPending {
		t.Fatalf("record mutated: status = %s", store.gen.Status)
	}
}

func TestProcessCallbackUnknownID(t *testing.T) {
	r := newTestReconciler(&generationStore{gen: pendingGeneration()})

	_, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{"generationId":"missing"}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessCallbackCompletedWithValidURL(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"status": "completed",
		"generatedImageUrl": "https://cdn.example.com/out/gen-1.png",
		"qualityScore": "8.5",
		"processingTime": "42000",
		"executionId": "exec-77",
		"workflowVersion": "v3"
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", gen.Status)
	}
	if gen.GeneratedImageURL == nil || *gen.GeneratedImageURL != "https://cdn.example.com/out/gen-1.png" {
		t.Fatalf("generated url = %v", gen.GeneratedImageURL)
	}
	if gen.QualityScore == nil || *gen.QualityScore != 8.5 {
		t.Fatalf("quality = %v", gen.QualityScore)
	}
	if gen.ProcessingTime == nil || *gen.ProcessingTime != 42000 {
		t.Fatalf("processing time = %v", gen.ProcessingTime)
	}
	if gen.ExternalExecutionID == nil || *gen.ExternalExecutionID != "exec-77" {
		t.Fatalf("execution id = %v", gen.ExternalExecutionID)
	}
}

func TestProcessCallbackDirectQualityWinsOverAverage(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"qualityScore": 8,
		"realismScore": 9,
		"commercialAppeal": 7
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.QualityScore == nil || *gen.QualityScore != 8 {
		t.Fatalf("quality = %v, want 8", gen.QualityScore)
	}
}

func TestProcessCallbackQualityFallsBackToAverage(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"realismScore": 9,
		"commercialAppeal": 7
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.QualityScore == nil || *gen.QualityScore != 8 {
		t.Fatalf("quality = %v, want 8", gen.QualityScore)
	}
}

func TestProcessCallbackExecutionTimeAlias(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"executionTime": 1234
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.ProcessingTime == nil || *gen.ProcessingTime != 1234 {
		t.Fatalf("processing time = %v, want 1234", gen.ProcessingTime)
	}
}

func TestProcessCallbackRejectsInvalidURL(t *testing.T) {
	prior := "https://cdn.example.com/out/previous.png"
	store := &generationStore{gen: pendingGeneration()}
	store.gen.Status = domain.StatusProcessing
	store.gen.GeneratedImageURL = &prior
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"status": "completed",
		"generatedImageUrl": "undefined/undefined.png"
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", gen.Status)
	}
	if gen.ErrorMessage == nil || !strings.Contains(*gen.ErrorMessage, "undefined/undefined.png") {
		t.Fatalf("error message = %v, want mention of rejected url", gen.ErrorMessage)
	}
	if gen.GeneratedImageURL == nil || *gen.GeneratedImageURL != prior {
		t.Fatalf("generated url = %v, want prior value preserved", gen.GeneratedImageURL)
	}
}

func TestProcessCallbackCompletedWithoutArtifactFails(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"status": "completed"
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", gen.Status)
	}
	if gen.ErrorMessage == nil {
		t.Fatal("expected error message")
	}
}

func TestProcessCallbackIdempotentUnderRedelivery(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	payload := `{
		"generationId": "gen-1",
		"status": "completed",
		"generatedImageUrl": "https://cdn.example.com/out/gen-1.png",
		"qualityScore": 9.1,
		"commercialStyle": "lifestyle shot"
	}`

	first, err := r.ProcessCallback(context.Background(), decodeEvent(t, payload))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := r.ProcessCallback(context.Background(), decodeEvent(t, payload))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if second.Status != first.Status {
		t.Fatalf("status drifted: %s vs %s", second.Status, first.Status)
	}
	if *second.GeneratedImageURL != *first.GeneratedImageURL {
		t.Fatalf("url drifted: %s vs %s", *second.GeneratedImageURL, *first.GeneratedImageURL)
	}
	if *second.QualityScore != *first.QualityScore {
		t.Fatalf("quality drifted: %v vs %v", *second.QualityScore, *first.QualityScore)
	}
	if *second.CommercialStyle != *first.CommercialStyle {
		t.Fatalf("style drifted: %q vs %q", *second.CommercialStyle, *first.CommercialStyle)
	}
}

func TestProcessCallbackDoesNotRewriteTerminalRecord(t *testing.T) {
	url := "https://cdn.example.com/out/final.png"
	store := &generationStore{gen: pendingGeneration()}
	store.gen.Status = domain.StatusCompleted
	store.gen.GeneratedImageURL = &url
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"status": "processing"
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", gen.Status)
	}
	if store.gen.Status != domain.StatusCompleted {
		t.Fatalf("stored status mutated to %s", store.gen.Status)
	}
}

func TestProcessCallbackNormalizesStyleLabel(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"commercialStyle": "LIFESTYLE   shot"
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.CommercialStyle == nil || *gen.CommercialStyle != "Lifestyle Shot" {
		t.Fatalf("style = %v, want Lifestyle Shot", gen.CommercialStyle)
	}
}

func TestProcessCallbackMetadataAlias(t *testing.T) {
	store := &generationStore{gen: pendingGeneration()}
	r := newTestReconciler(store)

	gen, err := r.ProcessCallback(context.Background(), decodeEvent(t, `{
		"generationId": "gen-1",
		"comfyuiWorkflow": {"nodes": 12}
	}`))
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if gen.WorkflowMetadata == nil || !strings.Contains(string(gen.WorkflowMetadata), "nodes") {
		t.Fatalf("metadata = %s", gen.WorkflowMetadata)
	}
}
