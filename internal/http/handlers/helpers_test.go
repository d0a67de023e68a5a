package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/storage"
	"server/internal/workflow"
)

type stubSQL struct {
	execFn     func(query string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(query string, args ...any) pgx.Row
	queryFn    func(query string, args ...any) (pgx.Rows, error)
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if s.execFn == nil {
		return pgconn.CommandTag{}, nil
	}
	return s.execFn(query, args...)
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	if s.queryRowFn == nil {
		return stubRow{}
	}
	return s.queryRowFn(query, args...)
}

func (s *stubSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	if s.queryFn == nil {
		return &stubRows{}, nil
	}
	return s.queryFn(query, args...)
}

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubRows walks a list of per-row scan functions.
type stubRows struct {
	scans []func(dest ...any) error
	pos   int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	return r.pos < len(r.scans)
}

func (r *stubRows) Scan(dest ...any) error {
	scan := r.scans[r.pos]
	r.pos++
	return scan(dest...)
}

func testConfig() *infra.Config {
	return &infra.Config{
		AppEnv:          "test",
		Port:            "8080",
		JWTSecret:       "test-secret",
		PublicBaseURL:   "http://localhost:8080",
		StorageBaseURL:  "http://localhost:8080/static",
		WorkflowTimeout: 2 * time.Second,
	}
}

func newTestApp(t *testing.T, sql infra.SQLExecutor, webhookURL string) *App {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	logger := zerolog.New(io.Discard)
	trigger := workflow.NewClient(workflow.Options{
		WebhookURL: webhookURL,
		Logger:     &logger,
	})
	return NewApp(sql, logger, testConfig(), store, trigger)
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	return r.WithContext(middleware.ContextWithUserID(r.Context(), "user-1"))
}

// multipartUpload builds a request body with a prompt field and a small PNG.
func multipartUpload(t *testing.T, prompt, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if prompt != "" {
		if err := mw.WriteField("prompt", prompt); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

var pngBytes = append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0x00}, 64)...)
