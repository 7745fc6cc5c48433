// Package fetch implements the one-shot fetch command.
package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datacol/colfetch/cmd/common"
	"github.com/datacol/colfetch/internal/fetch"
)

// output is the JSON document printed for a successful fetch.
type output struct {
	Source    string         `json:"source"`
	FetchID   string         `json:"fetch_id"`
	FetchedAt time.Time      `json:"fetched_at"`
	Cached    bool           `json:"cached"`
	Attempts  int            `json:"attempts"`
	Payload   *fetch.Payload `json:"payload"`
}

// Command returns the fetch command.
func Command() *cobra.Command {
	var (
		queryPairs []string
		noCache    bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <source> [path]",
		Short: "Fetch one resource from a configured source",
		Long: `Fetch a single resource through the fabric: rate limiting,
response caching, and retry all apply. The decoded payload is printed
to stdout as JSON.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := common.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			src, ok := app.Catalog.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown source %q (try \"colfetch sources list\")", args[0])
			}

			path := ""
			if len(args) > 1 {
				path = args[1]
			}

			query, err := parseQueryPairs(queryPairs)
			if err != nil {
				return err
			}

			req := src.Request(path, query)
			if noCache {
				req.UseCache = false
			}

			result, err := app.Orchestrator.Fetch(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", src.Key, err)
			}

			return printJSON(output{
				Source:    result.Source,
				FetchID:   result.FetchID,
				FetchedAt: result.FetchedAt,
				Cached:    result.Cached,
				Attempts:  result.Attempts,
				Payload:   result.Payload,
			})
		},
	}

	cmd.Flags().StringArrayVarP(&queryPairs, "query", "q", nil,
		"query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false,
		"bypass the response cache for this fetch")

	return cmd
}

// parseQueryPairs converts key=value flags into a query map.
func parseQueryPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	query := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid query parameter %q: want key=value", pair)
		}
		query[key] = value
	}
	return query, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
