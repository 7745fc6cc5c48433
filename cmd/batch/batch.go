// Package batch implements the bounded-concurrency batch fetch command.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datacol/colfetch/cmd/common"
	"github.com/datacol/colfetch/internal/fetch"
)

// manifest is the on-disk shape of a batch request file.
type manifest struct {
	Items []manifestItem `yaml:"items"`
}

type manifestItem struct {
	Source  string            `yaml:"source"`
	Path    string            `yaml:"path"`
	Query   map[string]string `yaml:"query"`
	NoCache bool              `yaml:"no_cache"`
}

// itemOutput is one slot of the printed batch result.
type itemOutput struct {
	Source   string         `json:"source"`
	Path     string         `json:"path"`
	OK       bool           `json:"ok"`
	Cached   bool           `json:"cached,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Payload  *fetch.Payload `json:"payload,omitempty"`
}

type batchOutput struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ms"`
	Items     []itemOutput  `json:"items"`
}

// Command returns the batch command.
func Command() *cobra.Command {
	var (
		file        string
		concurrency int
		failFast    bool
		noPayload   bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Fetch many resources concurrently from a manifest file",
		Long: `Fetch every item in a YAML manifest under a bounded-concurrency
gate. Per-source rate limits are shared with all other fetches, so a
large batch against one slow source is throttled exactly as if issued
sequentially. Results are printed in manifest order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := common.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			reqs, items, err := loadManifest(file, app)
			if err != nil {
				return err
			}

			maxConcurrent := concurrency
			if maxConcurrent <= 0 {
				maxConcurrent = app.Config.Fetch.BatchConcurrency
			}

			start := time.Now()
			results, err := app.Orchestrator.BatchFetch(cmd.Context(), reqs, fetch.BatchOptions{
				MaxConcurrent: maxConcurrent,
				FailFast:      failFast,
			})
			if err != nil && results == nil {
				return fmt.Errorf("batch: %w", err)
			}

			out := buildOutput(items, results, time.Since(start), noPayload)
			if printErr := printJSON(out); printErr != nil {
				return printErr
			}

			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			if out.Failed > 0 {
				return fmt.Errorf("batch: %d of %d items failed", out.Failed, out.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch manifest file (required)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0,
		"max in-flight fetches (default from config)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false,
		"cancel remaining items on the first failure")
	cmd.Flags().BoolVar(&noPayload, "no-payload", false,
		"omit payloads from the output, keep per-item status only")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// loadManifest parses the manifest and resolves every item against the
// source catalog before any fetch is issued.
func loadManifest(path string, app *common.App) ([]fetch.Request, []manifestItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Items) == 0 {
		return nil, nil, fmt.Errorf("manifest %s has no items", path)
	}

	reqs := make([]fetch.Request, 0, len(m.Items))
	for i, item := range m.Items {
		src, ok := app.Catalog.Get(item.Source)
		if !ok {
			return nil, nil, fmt.Errorf("item %d: unknown source %q", i, item.Source)
		}

		req := src.Request(item.Path, item.Query)
		if item.NoCache {
			req.UseCache = false
		}
		reqs = append(reqs, req)
	}
	return reqs, m.Items, nil
}

func buildOutput(items []manifestItem, results []fetch.ItemResult, elapsed time.Duration, noPayload bool) batchOutput {
	out := batchOutput{
		Total:   len(items),
		Elapsed: elapsed / time.Millisecond,
		Items:   make([]itemOutput, len(items)),
	}

	for i, item := range results {
		slot := itemOutput{
			Source: items[i].Source,
			Path:   items[i].Path,
		}

		switch {
		case item.Err != nil:
			slot.Error = item.Err.Error()
			if kind, ok := fetch.KindOf(item.Err); ok {
				slot.Kind = kind.String()
			}
			out.Failed++
		case item.Result != nil:
			slot.OK = true
			slot.Cached = item.Result.Cached
			slot.Attempts = item.Result.Attempts
			if !noPayload {
				slot.Payload = item.Result.Payload
			}
			out.Succeeded++
		default:
			// FailFast cancellation can leave slots unfilled.
			slot.Error = "cancelled before completion"
			out.Failed++
		}

		out.Items[i] = slot
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
