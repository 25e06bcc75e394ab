// Command b24import runs a one-shot import from a spreadsheet file into
// the CRM, writing a per-row ledger CSV next to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mwestcott/b24import/internal/catalog"
	"github.com/mwestcott/b24import/internal/config"
	"github.com/mwestcott/b24import/internal/crm"
	"github.com/mwestcott/b24import/internal/importer"
	"github.com/mwestcott/b24import/internal/ledger"
	"github.com/mwestcott/b24import/internal/logging"
	"github.com/mwestcott/b24import/internal/mapping"
	"github.com/mwestcott/b24import/internal/rows"
)

func main() {
	var (
		filePath    = flag.String("file", "", "input file (.csv or .xlsx)")
		mappingPath = flag.String("mapping", "", "mapping document (JSON)")
		category    = flag.String("category", "", "deal category id or name (optional)")
		ledgerPath  = flag.String("ledger", "", "ledger output path (default run-<timestamp>.csv)")
		listFields  = flag.String("list-fields", "", "print the field catalog for an entity and exit")
	)
	flag.Parse()

	if err := godotenv.Overload(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load configuration", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	client, err := crm.NewClient(cfg.CRM.WebhookURL,
		crm.WithDelay(cfg.CRM.RequestDelay),
		crm.WithTimeout(cfg.CRM.Timeout),
	)
	if err != nil {
		fatal("create CRM client", err)
	}

	ctx := context.Background()

	if *listFields != "" {
		if err := printCatalog(ctx, client, *listFields); err != nil {
			fatal("list fields", err)
		}
		return
	}

	if *filePath == "" || *mappingPath == "" {
		fmt.Fprintln(os.Stderr, "usage: b24import -file data.csv -mapping mapping.json [-category 4] [-ledger run.csv]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	doc, err := mapping.LoadFile(*mappingPath)
	if err != nil {
		fatal("load mapping", err)
	}

	primaryCat, err := catalog.Resolve(ctx, client, cfg.Import.PrimaryEntity)
	if err != nil {
		fatal("fetch "+cfg.Import.PrimaryEntity+" schema", err)
	}
	dependentCat, err := catalog.Resolve(ctx, client, cfg.Import.DependentEntity)
	if err != nil {
		fatal("fetch "+cfg.Import.DependentEntity+" schema", err)
	}

	categoryID, err := resolveCategory(ctx, client, *category)
	if err != nil {
		fatal("resolve category", err)
	}

	src, closer, err := rows.Open(*filePath)
	if err != nil {
		fatal("open input file", err)
	}
	defer closer.Close()

	out := *ledgerPath
	if out == "" {
		out = fmt.Sprintf("run-%s.csv", time.Now().Format("20060102-150405"))
	}
	led, err := ledger.NewCSV(out)
	if err != nil {
		fatal("create ledger", err)
	}
	defer led.Close()

	runner, err := importer.NewRunner(importer.RunnerConfig{
		Store:            client,
		Ledger:           led,
		Mapping:          doc,
		PrimaryEntity:    cfg.Import.PrimaryEntity,
		PrimaryCatalog:   primaryCat,
		DependentEntity:  cfg.Import.DependentEntity,
		DependentCatalog: dependentCat,
		CategoryID:       categoryID,
		Progress: func(p importer.Progress) {
			fmt.Printf("row %-5d %s %s | %s %s\n",
				p.Ordinal,
				p.Primary.Entity, p.Primary.Outcome(),
				p.Dependent.Entity, p.Dependent.Outcome(),
			)
		},
	})
	if err != nil {
		fatal("prepare run", err)
	}

	summary, err := runner.Run(ctx, src)
	if err != nil {
		fatal("run aborted", err)
	}

	fmt.Printf("\n%d rows (%d empty) in %s\n", summary.Rows, summary.EmptyRows, summary.Duration.Round(time.Millisecond))
	fmt.Printf("%s: %d created, %d found, %d failed\n",
		cfg.Import.PrimaryEntity, summary.PrimaryCreated, summary.PrimaryFound, summary.PrimaryFailed)
	fmt.Printf("%s: %d created, %d skipped\n",
		cfg.Import.DependentEntity, summary.DependentsMade, summary.DependentsSkips)
	fmt.Printf("ledger: %s\n", out)

	if summary.PrimaryFailed > 0 {
		os.Exit(1)
	}
}

// printCatalog renders the resolved field catalog for manual mapping
// authoring.
func printCatalog(ctx context.Context, client *crm.Client, entity string) error {
	cat, err := catalog.Resolve(ctx, client, entity)
	if err != nil {
		return err
	}

	for _, d := range cat.Sorted() {
		line := fmt.Sprintf("%-30s %-10s %s", d.ID, d.Kind, d.Label)
		if len(d.Subtypes) > 0 {
			line += " (" + strings.Join(d.Subtypes, ", ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

// resolveCategory accepts a category id as-is, or resolves a category
// name against the portal's pipeline list.
func resolveCategory(ctx context.Context, client *crm.Client, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" || isDigits(category) {
		return category, nil
	}

	cats, err := client.Categories(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, category) {
			return c.ID.String(), nil
		}
	}

	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	return "", fmt.Errorf("no category named %q; portal has: %s", category, strings.Join(names, ", "))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "b24import: %s: %v\n", msg, err)
	os.Exit(1)
}
