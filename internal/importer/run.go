package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mwestcott/b24import/internal/catalog"
	"github.com/mwestcott/b24import/internal/mapping"
	"github.com/mwestcott/b24import/internal/rows"
)

// Runner drives the per-row import sequence:
//
//	build primary payload → resolve-or-create primary → build dependent
//	payload → link → create dependent → append ledger record
//
// Rows are strictly sequential: row N+1 does not start until row N is
// fully recorded. Dedup correctness depends on this: two rows sharing a
// dedup value must never race to create the same primary entity.
type Runner struct {
	store    Store
	resolver *Resolver
	ledger   Ledger
	doc      *mapping.Document

	primaryEntity   string
	primaryCatalog  *catalog.Catalog
	dependentEntity string
	dependentCat    *catalog.Catalog

	categoryID string
	linkField  string

	log      *slog.Logger
	progress func(Progress)
}

// RunnerConfig assembles a Runner. All fields except Progress are
// required; the mapping document must already be validated against both
// catalogs.
type RunnerConfig struct {
	Store            Store
	Ledger           Ledger
	Mapping          *mapping.Document
	PrimaryEntity    string
	PrimaryCatalog   *catalog.Catalog
	DependentEntity  string
	DependentCatalog *catalog.Catalog

	// CategoryID is the pipeline identifier injected into every
	// dependent payload.
	CategoryID string

	Logger   *slog.Logger
	Progress func(Progress)
}

// NewRunner validates the configuration and builds a Runner. Mapping and
// schema problems are caught here, before any remote mutation.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner requires a store")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("runner requires a ledger")
	}
	if cfg.Mapping == nil {
		return nil, fmt.Errorf("runner requires a mapping document")
	}
	if cfg.PrimaryCatalog == nil || cfg.DependentCatalog == nil {
		return nil, fmt.Errorf("runner requires both catalogs")
	}

	if err := cfg.Mapping.Validate(cfg.PrimaryCatalog, cfg.DependentCatalog); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		store:           cfg.Store,
		resolver:        NewResolver(cfg.Store, cfg.PrimaryEntity, cfg.Mapping.DedupField()),
		ledger:          cfg.Ledger,
		doc:             cfg.Mapping,
		primaryEntity:   cfg.PrimaryEntity,
		primaryCatalog:  cfg.PrimaryCatalog,
		dependentEntity: cfg.DependentEntity,
		dependentCat:    cfg.DependentCatalog,
		categoryID:      cfg.CategoryID,
		linkField:       cfg.Mapping.ResolvedLinkField(),
		log:             logger,
		progress:        cfg.Progress,
	}, nil
}

// Run processes every row from the source. A single row's failure never
// aborts the run; transport errors are downgraded to ledger entries at
// the row boundary. The returned error covers source and ledger
// failures only; those do abort, because continuing would lose the
// audit trail.
func (r *Runner) Run(ctx context.Context, src rows.Source) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("read row: %w", err)
		}
		summary.Rows++

		if row.IsEmpty() {
			summary.EmptyRows++
			r.log.Debug("skipping empty row", "row", row.Ordinal)
			continue
		}

		rec := r.processRow(ctx, row)

		if err := r.ledger.Append(rec); err != nil {
			return summary, fmt.Errorf("append ledger record for row %d: %w", rec.Ordinal, err)
		}

		r.tally(summary, rec)
		r.log.Info("row imported",
			"row", rec.Ordinal,
			"primary", rec.PrimaryRef.Outcome(),
			"dependent", rec.DependentRef.Outcome(),
		)
		if r.progress != nil {
			r.progress(Progress{Ordinal: rec.Ordinal, Primary: rec.PrimaryRef, Dependent: rec.DependentRef})
		}
	}

	summary.Duration = time.Since(start)
	r.log.Info("run complete",
		"rows", summary.Rows,
		"primary_created", summary.PrimaryCreated,
		"primary_found", summary.PrimaryFound,
		"primary_failed", summary.PrimaryFailed,
		"dependents_created", summary.DependentsMade,
		"dependents_skipped", summary.DependentsSkips,
		"duration", summary.Duration,
	)
	return summary, nil
}

// processRow runs the state machine for one row. All remote failures are
// absorbed into the returned record.
func (r *Runner) processRow(ctx context.Context, row rows.Row) Record {
	rec := Record{Ordinal: row.Ordinal}

	if v, ok := row.Get(r.doc.DedupColumn); ok {
		rec.DedupValue = v
	}

	rec.PrimaryPayload, rec.PrimaryRef = r.resolvePrimary(ctx, row, rec.DedupValue)
	rec.DependentPayload, rec.DependentRef = r.createDependent(ctx, row, rec.PrimaryRef)

	return rec
}

// resolvePrimary builds the primary payload and either finds an existing
// entity or creates a new one.
func (r *Runner) resolvePrimary(ctx context.Context, row rows.Row, dedupValue string) (Payload, EntityRef) {
	ref := EntityRef{Entity: r.primaryEntity}

	payload, err := BuildPayload(row, r.doc.Primary, r.primaryCatalog)
	if err != nil {
		// Mapping was validated up front, so this is schema drift
		// mid-run; record it and move on.
		ref.Status = StatusFailed
		ref.Detail = err.Error()
		return nil, ref
	}

	id, found, err := r.resolver.FindExisting(ctx, dedupValue)
	if err != nil {
		ref.Status = StatusFailed
		ref.Detail = err.Error()
		return payload, ref
	}
	if found {
		ref.Status = StatusFound
		ref.ID = id
		return payload, ref
	}

	if len(payload) == 0 {
		// Nothing mapped for this entity on this row; there is no
		// payload to create from.
		ref.Status = StatusSkipped
		return payload, ref
	}

	id, ok, err := r.store.Create(ctx, r.primaryEntity, payload)
	if err != nil {
		ref.Status = StatusFailed
		ref.Detail = err.Error()
		return payload, ref
	}
	if !ok {
		ref.Status = StatusFailed
		ref.Detail = "no identifier in response"
		return payload, ref
	}

	ref.Status = StatusCreated
	ref.ID = id
	return payload, ref
}

// createDependent builds the dependent payload, injects the category and
// the primary link, and creates the entity. A dependent is only ever
// linked to a primary identifier; without one the creation is skipped,
// never issued unlinked.
func (r *Runner) createDependent(ctx context.Context, row rows.Row, primary EntityRef) (Payload, EntityRef) {
	ref := EntityRef{Entity: r.dependentEntity}

	payload, err := BuildPayload(row, r.doc.Dependent, r.dependentCat)
	if err != nil {
		ref.Status = StatusFailed
		ref.Detail = err.Error()
		return nil, ref
	}

	if primary.ID == "" {
		ref.Status = StatusSkipped
		return payload, ref
	}

	submit := payload.clone()
	if r.categoryID != "" {
		submit["CATEGORY_ID"] = r.categoryID
	}
	submit[r.linkField] = primary.ID

	id, ok, err := r.store.Create(ctx, r.dependentEntity, submit)
	if err != nil {
		ref.Status = StatusFailed
		ref.Detail = err.Error()
		return submit, ref
	}
	if !ok {
		ref.Status = StatusFailed
		ref.Detail = "no identifier in response"
		return submit, ref
	}

	ref.Status = StatusCreated
	ref.ID = id
	return submit, ref
}

func (r *Runner) tally(s *Summary, rec Record) {
	switch rec.PrimaryRef.Status {
	case StatusCreated:
		s.PrimaryCreated++
	case StatusFound:
		s.PrimaryFound++
	case StatusFailed:
		s.PrimaryFailed++
	}

	switch rec.DependentRef.Status {
	case StatusCreated:
		s.DependentsMade++
	case StatusSkipped:
		s.DependentsSkips++
	}
}
