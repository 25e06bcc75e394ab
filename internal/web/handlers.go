package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mwestcott/b24import/internal/catalog"
	"github.com/mwestcott/b24import/internal/importer"
	"github.com/mwestcott/b24import/internal/ledger"
	"github.com/mwestcott/b24import/internal/logging"
	"github.com/mwestcott/b24import/internal/mapping"
	"github.com/mwestcott/b24import/internal/rows"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fieldView is the JSON shape of one catalog field.
type fieldView struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"`
	Type     string   `json:"type"`
	Subtypes []string `json:"subtypes,omitempty"`
}

// handleListFields returns the importable field catalog for an entity,
// sorted by display label. Clients use it to build mapping documents.
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	if entity == "" {
		s.respondError(w, r, fmt.Errorf("missing entity"), http.StatusBadRequest)
		return
	}

	cat, err := catalog.Resolve(r.Context(), s.client, entity)
	if err != nil {
		s.respondError(w, r, err, errorStatus(err))
		return
	}

	fields := make([]fieldView, 0, cat.Len())
	for _, d := range cat.Sorted() {
		fields = append(fields, fieldView{
			ID:       d.ID,
			Label:    d.Label,
			Kind:     d.Kind.String(),
			Type:     d.Type,
			Subtypes: d.Subtypes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "fields": fields})
}

// handleListCategories returns the portal's deal categories so callers
// can pick a pipeline for the dependent entities.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.client.Categories(r.Context())
	if err != nil {
		s.respondError(w, r, err, errorStatus(err))
		return
	}

	type categoryView struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryView{ID: c.ID.String(), Name: c.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

// handleStartRun accepts a multipart upload (file + mapping document +
// optional category id), validates everything that can fail up front,
// and starts the run in the background. The response carries the run id
// for polling.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.respondError(w, r, fmt.Errorf("file too large or invalid form: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("no file provided"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	mappingJSON := r.FormValue("mapping")
	if mappingJSON == "" {
		s.respondError(w, r, fmt.Errorf("no mapping provided"), http.StatusBadRequest)
		return
	}
	doc, err := mapping.Decode(strings.NewReader(mappingJSON))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	categoryID := r.FormValue("category_id")

	// Schema fetch and mapping validation happen before the run exists:
	// these failures are fatal and belong to the caller, not the ledger.
	primaryCat, err := catalog.Resolve(r.Context(), s.client, s.cfg.Import.PrimaryEntity)
	if err != nil {
		s.respondError(w, r, err, errorStatus(err))
		return
	}
	dependentCat, err := catalog.Resolve(r.Context(), s.client, s.cfg.Import.DependentEntity)
	if err != nil {
		s.respondError(w, r, err, errorStatus(err))
		return
	}
	if err := doc.Validate(primaryCat, dependentCat); err != nil {
		s.respondError(w, r, err, errorStatus(err))
		return
	}

	// The uploaded stream is spooled to disk so the row source can
	// dispatch on the file extension.
	tmpPath, err := spoolUpload(file, header.Filename)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	src, closer, err := rows.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	runID := uuid.New()
	ledgerPath := filepath.Join(s.cfg.Import.LedgerDir, fmt.Sprintf("run-%s.csv", runID))

	csvLedger, err := ledger.NewCSV(ledgerPath)
	if err != nil {
		closer.Close()
		os.Remove(tmpPath)
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	if err := s.runs.begin(runID, header.Filename, ledgerPath); err != nil {
		csvLedger.Close()
		closer.Close()
		os.Remove(tmpPath)
		s.respondError(w, r, err, http.StatusConflict)
		return
	}

	// The run outlives the request; it gets its own context.
	ctx := context.Background()
	log := logging.FromContext(r.Context()).With("run_id", runID)

	var sink importer.Ledger = csvLedger
	if s.store != nil {
		if err := s.store.StartRun(ctx, runID, header.Filename); err != nil {
			log.Warn("ledger mirror unavailable, continuing with CSV only", "error", err)
		} else {
			sink = ledger.Tee(csvLedger, s.store.Mirror(ctx, runID))
		}
	}

	runner, err := importer.NewRunner(importer.RunnerConfig{
		Store:            s.client,
		Ledger:           sink,
		Mapping:          doc,
		PrimaryEntity:    s.cfg.Import.PrimaryEntity,
		PrimaryCatalog:   primaryCat,
		DependentEntity:  s.cfg.Import.DependentEntity,
		DependentCatalog: dependentCat,
		CategoryID:       categoryID,
		Logger:           log,
		Progress: func(p importer.Progress) {
			s.runs.progress(runID, p)
		},
	})
	if err != nil {
		s.runs.finish(runID, nil, err)
		csvLedger.Close()
		closer.Close()
		os.Remove(tmpPath)
		s.respondError(w, r, err, errorStatus(err))
		return
	}

	go func() {
		defer closer.Close()
		defer csvLedger.Close()
		defer os.Remove(tmpPath)

		summary, runErr := runner.Run(ctx, src)
		s.runs.finish(runID, summary, runErr)

		if s.store != nil && summary != nil {
			if err := s.store.FinishRun(ctx, runID, summary); err != nil {
				log.Warn("recording run completion in mirror failed", "error", err)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"ledger": ledgerPath,
	})
}

// handleListRuns returns every run this process has tracked, newest
// first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.list()})
}

// handleRunHistory returns persisted run history from the Postgres
// mirror, which survives restarts. 404 when no mirror is configured.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, r, fmt.Errorf("run history requires a configured database"), http.StatusNotFound)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns the current state of one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("invalid run id"), http.StatusBadRequest)
		return
	}

	view, _, ok := s.runs.get(id)
	if !ok {
		s.respondError(w, r, fmt.Errorf("run %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDownloadLedger streams the run's ledger CSV. The file is flushed
// per record, so downloading mid-run yields a consistent prefix.
func (s *Server) handleDownloadLedger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("invalid run id"), http.StatusBadRequest)
		return
	}

	_, path, ok := s.runs.get(id)
	if !ok {
		s.respondError(w, r, fmt.Errorf("run %s not found", id), http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("ledger unavailable"), http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.csv"`, id))
	io.Copy(w, f)
}

// spoolUpload copies an uploaded stream to a temp file, preserving the
// original extension so the row source dispatch works.
func spoolUpload(file io.Reader, name string) (string, error) {
	ext := filepath.Ext(name)
	tmp, err := os.CreateTemp("", "import-*"+ext)
	if err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), nil
}
