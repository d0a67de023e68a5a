package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/reconcile"
	"server/internal/sqlinline"
	"server/internal/workflow"
)

type paymentEvent struct {
	Type          string `json:"type"`
	PaymentRef    string `json:"paymentRef"`
	PaymentStatus string `json:"paymentStatus"`
}

// PaymentWebhook handles provider notifications for paid generations. A
// completed checkout moves the linked record to processing and fires the
// workflow; a failed payment fails the record.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if a.Config.PaymentWebhookSecret == "" {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "payment webhooks are not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read payload")
		return
	}
	if !verifyPaymentSignature(a.Config.PaymentWebhookSecret, body, r.Header.Get("X-Payment-Signature")) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if ev.PaymentRef == "" {
		a.error(w, http.StatusBadRequest, "missing_field", "paymentRef is required")
		return
	}

	switch {
	case ev.Type == "checkout.completed" && ev.PaymentStatus == "paid":
		if err := a.startPaidGeneration(r.Context(), ev.PaymentRef); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				a.error(w, http.StatusNotFound, "not_found", "no generation for payment reference")
				return
			}
			a.Logger.Error().Err(err).Str("payment_ref", ev.PaymentRef).Msg("paid generation start failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
			return
		}
	case ev.Type == "payment.failed":
		if err := a.failPaidGeneration(r.Context(), ev.PaymentRef); err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Err(err).Str("payment_ref", ev.PaymentRef).Msg("payment failure update failed")
		}
	default:
		a.Logger.Info().Str("type", ev.Type).Str("payment_ref", ev.PaymentRef).Msg("ignoring payment event")
	}

	a.json(w, http.StatusOK, map[string]any{"received": true})
}

func (a *App) startPaidGeneration(ctx context.Context, paymentRef string) error {
	row := a.SQL.QueryRow(ctx, sqlinline.QSelectGenerationByPaymentRef, paymentRef)
	gen, err := reconcile.ScanGeneration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if gen.Status.Terminal() {
		return nil
	}

	if _, err := a.SQL.Exec(ctx, sqlinline.QUpdateGenerationStatus, gen.ID, domain.StatusProcessing, nil); err != nil {
		return err
	}

	if !a.Trigger.HasDestination() {
		return nil
	}
	triggerCtx, cancel := context.WithTimeout(ctx, a.Config.WorkflowTimeout)
	defer cancel()
	err = a.Trigger.Trigger(triggerCtx, workflow.TriggerRequest{
		GenerationID: gen.ID,
		UserID:       gen.UserID,
		ImageURL:     gen.OriginalImageURL,
		PromptText:   gen.PromptText,
		CallbackURL:  a.Config.CallbackURL(),
	})
	if err != nil {
		msg := fmt.Sprintf("Failed to trigger workflow: %v", err)
		a.markFailed(ctx, gen.ID, msg)
	}
	return nil
}

func (a *App) failPaidGeneration(ctx context.Context, paymentRef string) error {
	row := a.SQL.QueryRow(ctx, sqlinline.QSelectGenerationByPaymentRef, paymentRef)
	gen, err := reconcile.ScanGeneration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if gen.Status.Terminal() {
		return nil
	}
	msg := "Payment failed"
	_, err = a.SQL.Exec(ctx, sqlinline.QUpdateGenerationStatus, gen.ID, domain.StatusFailed, &msg)
	return err
}

func verifyPaymentSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
