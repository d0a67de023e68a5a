package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/reconcile"
	"server/internal/storage"
	"server/internal/workflow"
)

// App bundles the dependencies shared by all HTTP handlers. Everything is
// injected so tests can substitute the SQL executor, store and trigger.
type App struct {
	SQL        infra.SQLExecutor
	Logger     infra.Logger
	Config     *infra.Config
	Store      *storage.FileStore
	Trigger    *workflow.Client
	Reconciler *reconcile.Reconciler
	Validate   *validator.Validate
}

func NewApp(sql infra.SQLExecutor, logger infra.Logger, cfg *infra.Config, store *storage.FileStore, trigger *workflow.Client) *App {
	return &App{
		SQL:        sql,
		Logger:     logger,
		Config:     cfg,
		Store:      store,
		Trigger:    trigger,
		Reconciler: reconcile.NewReconciler(sql, logger),
		Validate:   validator.New(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
