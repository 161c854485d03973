package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harborlight/gatelock/internal/config"
	"github.com/harborlight/gatelock/internal/engine"
)

// ErrRequestDenied is returned when gatelock check evaluates a request
// and the engine denies it. The process exits nonzero so the command can
// gate CI policy tests.
var ErrRequestDenied = errors.New("request denied")

func checkCmd() *cobra.Command {
	var configFile string
	var method string
	var path string
	var headers []string
	var body string
	var bodyFile string
	var client string
	var https bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config or evaluate a single request",
		Long: `Validate a Gatelock config file and optionally evaluate one request
through the admission pipeline, described by flags.

With no request flags the command only validates the config. With --path
set it builds a request from the flags, evaluates it, and exits 1 when
the engine denies it.

Examples:
  gatelock check --config gatelock.yaml
  gatelock check --config gatelock.yaml --path "/search?q=test"
  gatelock check --config gatelock.yaml --method POST --path /login \
      --header "Content-Type: application/json" --body '{"user":"admin"}'
  gatelock check --config gatelock.yaml --path /api --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Config validation FAILED: %v\n", err)
					return err
				}
				fmt.Fprintln(out, "Config validation: OK")
				fmt.Fprintf(out, "  Listen:       %s\n", cfg.Server.Listen)
				fmt.Fprintf(out, "  Rate limit:   %s\n", describeRateLimit(cfg))
				fmt.Fprintf(out, "  Validation:   %s\n", describeEnabled(*cfg.Validation.Enabled))
				fmt.Fprintf(out, "  CSRF:         %s\n", describeEnabled(cfg.Csrf.Enabled))
				fmt.Fprintf(out, "  Auth:         %s\n", describeAuth(cfg))
				fmt.Fprintf(out, "  Threat:       %s\n", describeEnabled(*cfg.Threat.Enabled))
				fmt.Fprintf(out, "  HTTPS:        required=%v\n", cfg.Https.RequireHTTPS)
			} else {
				cfg = config.Defaults()
				fmt.Fprintln(out, "Using default config (no --config specified)")
			}

			if path == "" {
				return nil
			}

			hdrs, err := parseHeaderFlags(headers)
			if err != nil {
				return err
			}

			payload := []byte(body)
			if bodyFile != "" {
				payload, err = os.ReadFile(bodyFile) //nolint:gosec // G304: path from caller
				if err != nil {
					return fmt.Errorf("reading body file: %w", err)
				}
			}

			eng, err := engine.New(cfg)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}
			defer eng.Close()

			d := eng.Evaluate(engine.Request{
				Method:     strings.ToUpper(method),
				Path:       path,
				Headers:    hdrs,
				Body:       payload,
				ClientAddr: client,
				TLS:        https,
			})

			if asJSON {
				data, err := json.MarshalIndent(d, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			} else {
				printDecision(out, d)
			}

			if !d.Allowed {
				return fmt.Errorf("%s: %w", d.Reason, ErrRequestDenied)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path to validate")
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "request method")
	cmd.Flags().StringVar(&path, "path", "", "request path, with optional query string")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header, "Name: value" (repeatable)`)
	cmd.Flags().StringVarP(&body, "body", "d", "", "request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "read request body from file")
	cmd.Flags().StringVar(&client, "client", "192.0.2.1", "client address")
	cmd.Flags().BoolVar(&https, "https", false, "treat the request as TLS-terminated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision in wire JSON form")

	return cmd
}

// parseHeaderFlags converts repeated "Name: value" flags into the
// engine's single-valued header map.
func parseHeaderFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	hdrs := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", f)
		}
		hdrs[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return hdrs, nil
}

func printDecision(out io.Writer, d engine.Decision) {
	if d.Allowed {
		fmt.Fprintln(out, "Decision: ALLOWED")
	} else {
		fmt.Fprintln(out, "Decision: BLOCKED")
		fmt.Fprintf(out, "  Stage:  %s\n", d.Stage)
		fmt.Fprintf(out, "  Status: %d\n", d.StatusCode)
		fmt.Fprintf(out, "  Reason: %s\n", d.Reason)
	}
	if d.ThreatScore > 0 {
		fmt.Fprintf(out, "  Score:  %d\n", d.ThreatScore)
	}
	if len(d.Flags) > 0 {
		fmt.Fprintf(out, "  Flags:  %s\n", strings.Join(d.Flags, ", "))
	}
	if len(d.Headers) > 0 {
		fmt.Fprintln(out, "Headers:")
		for _, k := range sortedKeys(d.Headers) {
			fmt.Fprintf(out, "  %s: %s\n", k, d.Headers[k])
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describeEnabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func describeRateLimit(cfg *config.Config) string {
	if !*cfg.RateLimit.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("%d req / %ds window, burst %d",
		cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowSeconds, *cfg.RateLimit.BurstSize)
}

func describeAuth(cfg *config.Config) string {
	if !cfg.Auth.Enabled {
		return "disabled"
	}
	if cfg.Auth.RequireAuth {
		return fmt.Sprintf("required (%d api keys)", len(cfg.Auth.APIKeys))
	}
	return "advisory"
}
