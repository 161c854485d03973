package engine

import (
	"fmt"
	"net/http"
	"strings"
)

// Suspicion scoring weights and thresholds. A request is suspicious
// when its score alone crosses threatBlockScore, or when it carries an
// attack finding and crosses the lower threatAttackScore.
const (
	threatBlockScore     = 100
	threatAttackScore    = 40
	scoreOversizedHeader = 30
	scoreScannerUA       = 70
	scoreMissingUA       = 20
	scoreMissingAccept   = 10
)

// scannerAgents are User-Agent substrings of common attack tooling.
var scannerAgents = []string{"sqlmap", "nikto", "nmap", "masscan", "burp"}

// checkThreat scores suspicion signals: the validator's findings, bot
// header shape, and oversized headers. Findings are reused, never
// rescanned; only when validation is disabled does this stage run the
// matcher itself. A suspicious request is blocked when block_suspicious
// is set, otherwise flagged for monitoring and passed.
func (e *Engine) checkThreat(view *requestView, findings []Finding) (verdict, int, []string) {
	th := e.cfg.Threat
	if !*th.Enabled {
		return verdict{}, 0, nil
	}

	score := 0
	var flags []string

	if *th.KnownPatterns {
		if !*e.cfg.Validation.Enabled {
			prep := e.matcher.prepare(view)
			for _, cat := range []Category{CategoryXSS, CategorySQL, CategoryCommand, CategoryTraversal} {
				findings = append(findings, e.matcher.match(prep, cat)...)
			}
		}
		for _, f := range findings {
			score += f.Score
			flags = append(flags, string(f.Category)+":"+f.Rule)
		}
	}

	// Oversized single header value. The validator blocks these outright
	// when enabled; scoring here covers validation-off setups.
	if hasOversizedHeader(view.headers, e.cfg.Validation.MaxHeaderSize) {
		score += scoreOversizedHeader
		flags = append(flags, "oversized_header")
	}

	if *th.BotDetection {
		if ua := view.headers.Get("User-Agent"); ua == "" {
			score += scoreMissingUA
			flags = append(flags, "no_user_agent")
		} else {
			lower := strings.ToLower(ua)
			for _, tool := range scannerAgents {
				if strings.Contains(lower, tool) {
					score += scoreScannerUA
					flags = append(flags, "scanner_user_agent")
					break
				}
			}
		}
		if view.headers.Get("Accept") == "" {
			score += scoreMissingAccept
			flags = append(flags, "no_accept")
		}
	}

	// anomaly_detection is a reserved hook: without a request-history
	// collaborator there is no baseline to deviate from.

	suspicious := score >= threatBlockScore || (len(findings) > 0 && score >= threatAttackScore)
	if suspicious && *th.BlockSuspicious {
		return blockVerdict("threat", http.StatusForbidden,
			fmt.Sprintf("suspicious activity (score %d)", score)), score, flags
	}
	if suspicious {
		flags = append(flags, "suspicious")
	}
	return verdict{}, score, flags
}

func hasOversizedHeader(h http.Header, limit int) bool {
	for _, values := range h {
		for _, v := range values {
			if len(v) > limit {
				return true
			}
		}
	}
	return false
}
