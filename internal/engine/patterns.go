package engine

import (
	"net/url"
	"regexp"

	"github.com/harborlight/gatelock/internal/normalize"
)

// Category names an attack signature family.
type Category string

// Signature categories checked by the validator and threat detector.
const (
	CategoryXSS       Category = "xss"
	CategorySQL       Category = "sql_injection"
	CategoryCommand   Category = "command_injection"
	CategoryTraversal Category = "path_traversal"
)

// Finding is a located signature match within request content.
type Finding struct {
	Category Category `json:"category"`
	Rule     string   `json:"rule"`
	Location string   `json:"location"` // path, header, body, or text
	Snippet  string   `json:"snippet"`  // short control-stripped excerpt
	Score    int      `json:"score"`    // suspicion weight for the threat detector
}

// signature is one compiled detection rule. Signatures marked raw match
// the un-decoded surface only: they detect encoding itself (%2e%2e and
// friends), which disappears once the text is percent-decoded.
type signature struct {
	name  string
	re    *regexp.Regexp
	score int
	raw   bool
}

// Signature sets per category. Matching is heuristic: these catch the
// canonical attack forms and their common encodings, not every novel
// obfuscation. Patterns are matched against NFKC-normalized text with
// zero-width characters stripped and confusables folded, so homoglyph
// variants of these literals are caught too.
var signatureSets = map[Category][]signature{
	CategoryXSS: {
		{name: "script_tag", re: regexp.MustCompile(`(?i)<\s*script\b`), score: 60},
		{name: "javascript_uri", re: regexp.MustCompile(`(?i)javascript\s*:`), score: 60},
		{name: "event_handler", re: regexp.MustCompile(`(?i)\bon(?:error|load|click|focus|mouseover|submit|input)\s*=`), score: 50},
		{name: "embed_tag", re: regexp.MustCompile(`(?i)<\s*(?:iframe|embed|object)\b`), score: 50},
		{name: "data_uri_html", re: regexp.MustCompile(`(?i)data\s*:\s*text/html`), score: 50},
	},
	CategorySQL: {
		{name: "union_select", re: regexp.MustCompile(`(?i)\bunion\b(?:\s+all)?\s+select\b`), score: 60},
		{name: "tautology", re: regexp.MustCompile(`(?i)\b(?:or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+`), score: 60},
		{name: "quoted_tautology", re: regexp.MustCompile(`(?i)'\s*or\s*'[^']*'\s*=\s*'`), score: 60},
		{name: "stacked_query", re: regexp.MustCompile(`(?i);\s*(?:drop|delete|insert|update|create|alter|truncate)\b`), score: 60},
		{name: "comment_break", re: regexp.MustCompile(`(?i)['"]\s*(?:--|#|/\*)`), score: 50},
		{name: "exec_call", re: regexp.MustCompile(`(?i)\b(?:xp_cmdshell|exec\s*\(|execute\s+immediate)\b`), score: 60},
		{name: "time_probe", re: regexp.MustCompile(`(?i)\b(?:sleep|benchmark|pg_sleep)\s*\(\s*\d`), score: 50},
	},
	CategoryCommand: {
		// Single "&" is deliberately absent from the separator set: it is
		// the query-string delimiter and would flag ?a=1&cat=5.
		{name: "shell_chain", re: regexp.MustCompile("(?i)(?:;|\\n|&&|\\|{1,2})\\s*(?:cat|ls|rm|cp|mv|wget|curl|bash|sh|nc|chmod|chown|ping|whoami|uname|id|sleep|python|perl)\\b"), score: 50},
		{name: "command_subst", re: regexp.MustCompile(`\$\([^)]*\)`), score: 50},
		{name: "backtick_subst", re: regexp.MustCompile("`[^`]+`"), score: 50},
		{name: "env_probe", re: regexp.MustCompile(`\$\{?(?:IFS|PATH|HOME)\b`), score: 50},
	},
	CategoryTraversal: {
		{name: "dotdot", re: regexp.MustCompile(`\.\.[/\\]`), score: 40},
		{name: "dotdot_encoded", re: regexp.MustCompile(`(?i)(?:%2e%2e|\.\.%2f|%252e)`), score: 50, raw: true},
		{name: "sensitive_path", re: regexp.MustCompile(`(?i)/etc/(?:passwd|shadow)\b`), score: 50},
		{name: "windows_system", re: regexp.MustCompile(`(?i)\b[a-z]:\\+windows\\+`), score: 50},
	},
}

// locationWeights overrides a rule's base score for surfaces where the
// category reads stronger or weaker: markup landing in the path outranks
// markup in a body field, while a traversal sequence in the path scores
// below one smuggled into the body. Headers keep the rule's base score.
var locationWeights = map[Category]map[string]int{
	CategoryXSS:       {"path": 60, "body": 50},
	CategoryTraversal: {"path": 40, "body": 50},
}

func findingScore(cat Category, location string, base int) int {
	if weights, ok := locationWeights[cat]; ok {
		if w, ok := weights[location]; ok {
			return w
		}
	}
	return base
}

// Matcher scans request surfaces for attack signatures. Stateless and
// safe for concurrent use; all patterns are compiled at package init.
type Matcher struct {
	sanitize bool // strip control characters before matching
}

// NewMatcher creates a Matcher. When sanitize is set, NUL and other
// control characters are stripped from scanned text first, closing the
// %00-style split evasions.
func NewMatcher(sanitize bool) *Matcher {
	return &Matcher{sanitize: sanitize}
}

// Scan matches text against the given categories and returns the
// findings, deduplicated per rule. The text is percent-decoded and
// Unicode-normalized before matching.
func (m *Matcher) Scan(text string, categories ...Category) []Finding {
	surface := m.prepareSurface("text", text)
	var findings []Finding
	for _, cat := range categories {
		findings = append(findings, matchSurface(surface, cat)...)
	}
	return findings
}

// scanSurface is one request surface prepared for matching: the
// normalized raw text and its iteratively percent-decoded form.
type scanSurface struct {
	location string
	raw      string
	decoded  string
}

type preparedRequest struct {
	surfaces []scanSurface
}

// prepare normalizes the scannable surfaces of a request: the full path
// with query string, every header value, and the body.
func (m *Matcher) prepare(view *requestView) *preparedRequest {
	prep := &preparedRequest{}
	prep.surfaces = append(prep.surfaces, m.prepareSurface("path", view.fullPath))
	for _, values := range view.headers {
		for _, v := range values {
			prep.surfaces = append(prep.surfaces, m.prepareSurface("header", v))
		}
	}
	if len(view.body) > 0 {
		prep.surfaces = append(prep.surfaces, m.prepareSurface("body", string(view.body)))
	}
	return prep
}

func (m *Matcher) prepareSurface(location, text string) scanSurface {
	if m.sanitize {
		text = normalize.StripControlChars(text)
	}
	raw := normalize.ForScan(text)
	decoded := raw
	if dec := iterativeDecode(text); dec != text {
		decoded = normalize.ForScan(dec)
	}
	return scanSurface{location: location, raw: raw, decoded: decoded}
}

// match runs one category's signatures over all prepared surfaces,
// deduplicating findings by rule and location.
func (m *Matcher) match(prep *preparedRequest, cat Category) []Finding {
	var findings []Finding
	seen := map[string]bool{}
	for _, surface := range prep.surfaces {
		for _, f := range matchSurface(surface, cat) {
			key := f.Rule + "|" + f.Location
			if seen[key] {
				continue
			}
			seen[key] = true
			findings = append(findings, f)
		}
	}
	return findings
}

func matchSurface(surface scanSurface, cat Category) []Finding {
	var findings []Finding
	for _, sig := range signatureSets[cat] {
		target := surface.decoded
		if sig.raw {
			target = surface.raw
		}
		matched := sig.re.FindString(target)
		if matched == "" {
			continue
		}
		findings = append(findings, Finding{
			Category: cat,
			Rule:     sig.name,
			Location: surface.location,
			Snippet:  snippet(matched),
			Score:    findingScore(cat, surface.location, sig.score),
		})
	}
	return findings
}

// snippetMax caps excerpt length in findings so audit entries stay small.
const snippetMax = 48

func snippet(s string) string {
	s = normalize.StripControlChars(s)
	if len(s) > snippetMax {
		s = s[:snippetMax]
	}
	return s
}

// maxDecodeRounds is a safety ceiling for iterative percent-decoding.
// The loop exits early once decoding stops changing the string, so the
// ceiling only matters for pathological inputs.
const maxDecodeRounds = 16

// iterativeDecode applies percent-decoding until the string stops
// changing or the ceiling is reached, catching multi-layer encoding
// (%252e -> %2e -> .). Inputs that fail to decode are returned as-is:
// malformed escapes are still scanned, just not unwrapped further.
func iterativeDecode(s string) string {
	for range maxDecodeRounds {
		decoded, err := url.QueryUnescape(s)
		if err != nil || decoded == s {
			break
		}
		s = decoded
	}
	return s
}
