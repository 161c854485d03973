package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborlight/gatelock/internal/store"
)

func logsCmd() *cobra.Command {
	var storePath string
	var last int
	var eventType string
	var stage string
	var client string
	var pathPrefix string
	var since string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the decision event store",
		Long: `Query decision events persisted by a gate server with
events.store_path configured.

Examples:
  gatelock logs --store gatelock-events.db
  gatelock logs --store gatelock-events.db --last 20
  gatelock logs --store gatelock-events.db --type blocked --stage sql_injection
  gatelock logs --store gatelock-events.db --client 203.0.113.7 --since 2h
  gatelock logs --store gatelock-events.db --path-prefix /api/ --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if storePath == "" {
				return fmt.Errorf("--store is required (specify the event store path)")
			}

			q := store.Query{
				Type:       eventType,
				Stage:      stage,
				ClientAddr: client,
				PathPrefix: pathPrefix,
				Limit:      last,
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
				q.Since = time.Now().Add(-d)
			}

			st, err := store.Open(storePath)
			if err != nil {
				return fmt.Errorf("opening event store: %w", err)
			}
			defer func() { _ = st.Close() }()

			events, err := st.Query(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("querying events: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, ev := range events {
					if err := enc.Encode(eventJSON(ev)); err != nil {
						return err
					}
				}
				return nil
			}

			for _, ev := range events {
				fmt.Fprintln(out, formatEvent(ev))
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no matching events")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "event store path (events.store_path)")
	cmd.Flags().IntVarP(&last, "last", "n", 0, "show only the most recent N events")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (allowed, blocked, rate_limited, lockdown_deny)")
	cmd.Flags().StringVar(&stage, "stage", "", "filter by blocking stage")
	cmd.Flags().StringVar(&client, "client", "", "filter by client address")
	cmd.Flags().StringVar(&pathPrefix, "path-prefix", "", "filter by request path prefix")
	cmd.Flags().StringVar(&since, "since", "", `only events newer than this age (e.g. "2h", "30m")`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit one JSON object per line")

	return cmd
}

// formatEvent renders one stored event as a log-style line.
func formatEvent(ev store.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-12s %-7s %s", ev.Time.Format(time.RFC3339), ev.Type, ev.Method, ev.Path)
	if ev.Stage != "" {
		fmt.Fprintf(&b, "  stage=%s", ev.Stage)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "  reason=%q", ev.Reason)
	}
	if ev.StatusCode != 0 {
		fmt.Fprintf(&b, "  status=%d", ev.StatusCode)
	}
	if ev.Score > 0 {
		fmt.Fprintf(&b, "  score=%d", ev.Score)
	}
	if ev.ClientAddr != "" {
		fmt.Fprintf(&b, "  client=%s", ev.ClientAddr)
	}
	if ev.Identity != "" {
		fmt.Fprintf(&b, "  identity=%s", ev.Identity)
	}
	return b.String()
}

// eventJSON is the stable JSON shape emitted by --json.
func eventJSON(ev store.Event) map[string]any {
	m := map[string]any{
		"time":   ev.Time.Format(time.RFC3339),
		"type":   ev.Type,
		"method": ev.Method,
		"path":   ev.Path,
		"status": ev.StatusCode,
		"client": ev.ClientAddr,
	}
	if ev.RequestID != "" {
		m["request_id"] = ev.RequestID
	}
	if ev.Stage != "" {
		m["stage"] = ev.Stage
	}
	if ev.Reason != "" {
		m["reason"] = ev.Reason
	}
	if ev.Score > 0 {
		m["score"] = ev.Score
	}
	if ev.Identity != "" {
		m["identity"] = ev.Identity
	}
	return m
}
