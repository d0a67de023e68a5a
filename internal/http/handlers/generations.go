package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/reconcile"
	"server/internal/sqlinline"
	"server/internal/storage"
	"server/internal/upload"
	"server/internal/workflow"
)

const (
	defaultListWindowDays = 7
	maxListWindowDays     = 30
	multipartMemoryLimit  = 8 << 20
)

type createResponse struct {
	GenerationID      string `json:"generation_id"`
	Status            string `json:"status"`
	WorkflowTriggered bool   `json:"workflow_triggered"`
	Message           string `json:"message,omitempty"`
}

type promptInput struct {
	Prompt string `validate:"required,min=1,max=2000"`
}

// GenerationsCreate accepts a multipart image + prompt, stores the blob,
// inserts the pending record and fires the workflow trigger. The response
// never waits for the actual generation, only for trigger acceptance.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+multipartMemoryLimit)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_file", "invalid multipart payload")
		return
	}

	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if err := a.Validate.Struct(promptInput{Prompt: prompt}); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required (max 2000 characters)")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_file", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, upload.MaxFileSize+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_file", "failed to read image")
		return
	}

	head := data
	if len(head) > 16 {
		head = head[:16]
	}
	if err := upload.CheckFile(header.Filename, header.Header.Get("Content-Type"), int64(len(data)), head); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_file", userFacingMessage(err))
		return
	}

	key := storage.UploadKey(userID, upload.SanitizeName(header.Filename), time.Now())
	storedKey, err := a.Store.Write(r.Context(), key, data)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("image upload failed")
		a.error(w, http.StatusBadGateway, "upstream_unavailable", "failed to store image")
		return
	}
	imageURL := a.Store.PublicURL(storedKey)

	id := uuid.NewString()
	row := a.SQL.QueryRow(r.Context(), sqlinline.QInsertGeneration, id, userID, imageURL, prompt)
	var insertedID string
	var status domain.GenerationStatus
	var createdAt time.Time
	if err := row.Scan(&insertedID, &status, &createdAt); err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("generation insert failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create generation record")
		return
	}

	if !a.Trigger.HasDestination() {
		// Documented limitation: without a configured webhook the record
		// stays pending until something else reconciles it.
		a.json(w, http.StatusAccepted, createResponse{
			GenerationID:      insertedID,
			Status:            string(domain.StatusPending),
			WorkflowTriggered: false,
			Message:           "generation recorded; workflow engine is not configured",
		})
		return
	}

	triggerCtx, cancel := context.WithTimeout(r.Context(), a.Config.WorkflowTimeout)
	defer cancel()
	err = a.Trigger.Trigger(triggerCtx, workflow.TriggerRequest{
		GenerationID: insertedID,
		UserID:       userID,
		ImageURL:     imageURL,
		PromptText:   prompt,
		CallbackURL:  a.Config.CallbackURL(),
	})
	if err != nil {
		msg := fmt.Sprintf("Failed to trigger workflow: %v", err)
		a.markFailed(r.Context(), insertedID, msg)
		a.json(w, http.StatusBadGateway, createResponse{
			GenerationID:      insertedID,
			Status:            string(domain.StatusFailed),
			WorkflowTriggered: false,
			Message:           msg,
		})
		return
	}

	a.json(w, http.StatusAccepted, createResponse{
		GenerationID:      insertedID,
		Status:            string(domain.StatusPending),
		WorkflowTriggered: true,
		Message:           "Generation started successfully",
	})
}

// markFailed persists a failure so polling clients observe it even though
// the creating request already got an error response.
func (a *App) markFailed(ctx context.Context, id, msg string) {
	if _, err := a.SQL.Exec(ctx, sqlinline.QUpdateGenerationStatus, id, domain.StatusFailed, &msg); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("failed to persist trigger failure")
	}
}

// GenerationsList returns the caller's records created within the trailing
// window, newest first.
func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	days := defaultListWindowDays
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 1 && parsed <= maxListWindowDays {
			days = parsed
		}
	}
	since := time.Now().AddDate(0, 0, -days)

	rows, err := a.SQL.Query(r.Context(), sqlinline.QListGenerations, userID, since)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch generations")
		return
	}
	defer rows.Close()

	items := []generationDTO{}
	for rows.Next() {
		gen, err := reconcile.ScanGeneration(rows)
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read generations")
			return
		}
		items = append(items, toDTO(gen))
	}

	a.json(w, http.StatusOK, map[string]any{
		"generations": items,
		"total":       len(items),
	})
}

// GenerationsDelete removes one record owned by the caller. A record that
// does not exist and a record owned by someone else are indistinguishable
// in the response.
func (a *App) GenerationsDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}

	row := a.SQL.QueryRow(r.Context(), sqlinline.QDeleteGeneration, id, userID)
	var originalURL string
	if err := row.Scan(&originalURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete generation")
		return
	}

	a.removeStoredBlob(r.Context(), originalURL)

	a.json(w, http.StatusOK, map[string]any{
		"success":    true,
		"deleted_id": id,
	})
}

// removeStoredBlob deletes the uploaded original when it lives in our own
// store. URLs outside the storage base (already-migrated records) are left
// alone.
func (a *App) removeStoredBlob(ctx context.Context, imageURL string) {
	prefix := a.Config.StorageBaseURL + "/"
	if !strings.HasPrefix(imageURL, prefix) {
		return
	}
	key := strings.TrimPrefix(imageURL, prefix)
	if err := a.Store.Remove(ctx, key); err != nil {
		a.Logger.Warn().Err(err).Str("key", key).Msg("failed to remove stored blob")
	}
}

type cleanupRequest struct {
	OlderThanHours int `json:"older_than_hours" validate:"omitempty,min=1,max=720"`
}

// GenerationsCleanup bulk-deletes the caller's failed records older than the
// threshold. Repeated calls with nothing eligible return zero.
func (a *App) GenerationsCleanup(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	req := cleanupRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "older_than_hours must be between 1 and 720")
		return
	}
	if req.OlderThanHours == 0 {
		req.OlderThanHours = 24
	}
	cutoff := time.Now().Add(-time.Duration(req.OlderThanHours) * time.Hour)

	tag, err := a.SQL.Exec(r.Context(), sqlinline.QCleanupFailedForUser, userID, cutoff)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to clean generations")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":       true,
		"cleaned_count": tag.RowsAffected(),
	})
}

// GenerationsStats summarizes the caller's recent records per status for
// the dashboard header.
func (a *App) GenerationsStats(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	since := time.Now().AddDate(0, 0, -defaultListWindowDays)

	rows, err := a.SQL.Query(r.Context(), sqlinline.QStatsByStatus, userID, since)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	defer rows.Close()

	counts := map[string]int64{}
	var total int64
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read stats")
			return
		}
		counts[status] = count
		total += count
	}

	a.json(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": counts,
	})
}

type generationDTO struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	OriginalImageURL    string          `json:"original_image_url"`
	GeneratedImageURL   *string         `json:"generated_image_url"`
	PromptText          string          `json:"prompt_text"`
	Status              string          `json:"status"`
	ErrorMessage        *string         `json:"error_message"`
	QualityScore        *float64        `json:"quality_score"`
	ProcessingTime      *int64          `json:"processing_time"`
	CommercialStyle     *string         `json:"commercial_style"`
	TargetAudience      *string         `json:"target_audience"`
	BrandGuidelines     *string         `json:"brand_guidelines"`
	WorkflowMetadata    json.RawMessage `json:"workflow_metadata,omitempty"`
	ExternalExecutionID *string         `json:"external_execution_id"`
	WorkflowVersion     *string         `json:"workflow_version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func toDTO(gen *domain.Generation) generationDTO {
	return generationDTO{
		ID:                  gen.ID,
		UserID:              gen.UserID,
		OriginalImageURL:    gen.OriginalImageURL,
		GeneratedImageURL:   gen.GeneratedImageURL,
		PromptText:          gen.PromptText,
		Status:              string(gen.Status),
		ErrorMessage:        gen.ErrorMessage,
		QualityScore:        gen.QualityScore,
		ProcessingTime:      gen.ProcessingTime,
		CommercialStyle:     gen.CommercialStyle,
		TargetAudience:      gen.TargetAudience,
		BrandGuidelines:     gen.BrandGuidelines,
		WorkflowMetadata:    json.RawMessage(gen.WorkflowMetadata),
		ExternalExecutionID: gen.ExternalExecutionID,
		WorkflowVersion:     gen.WorkflowVersion,
		CreatedAt:           gen.CreatedAt,
		UpdatedAt:           gen.UpdatedAt,
	}
}

func userFacingMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
