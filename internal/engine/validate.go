package engine

import (
	"fmt"
	"net/http"
)

// aggregateHeaderFactor scales max_header_size into the total-header
// bound. The per-value limit alone can be dodged by splitting a payload
// across many small headers; the aggregate bound closes that while
// leaving room for cookie-heavy but legitimate browsers.
const aggregateHeaderFactor = 4

// checkValidation enforces size limits and then the signature
// categories in a fixed order, short-circuiting on the first failure.
// Findings from enabled categories are returned even when the validator
// passes, so the threat detector can score them without rescanning.
func (e *Engine) checkValidation(view *requestView) (verdict, []Finding) {
	val := e.cfg.Validation
	if !*val.Enabled {
		return verdict{}, nil
	}

	// 1. Header sizes: any single value, then the aggregate.
	totalHeaderBytes := 0
	for name, values := range view.headers {
		for _, v := range values {
			if len(v) > val.MaxHeaderSize {
				return blockVerdict("header_size", http.StatusBadRequest,
					fmt.Sprintf("header too large: %s is %d bytes (limit %d)", name, len(v), val.MaxHeaderSize)), nil
			}
			totalHeaderBytes += len(name) + len(v)
		}
	}
	if limit := val.MaxHeaderSize * aggregateHeaderFactor; totalHeaderBytes > limit {
		return blockVerdict("header_size", http.StatusBadRequest,
			fmt.Sprintf("header too large: %d bytes across all headers (limit %d)", totalHeaderBytes, limit)), nil
	}

	// 2. Body size, before any normalization work touches the body.
	if len(view.body) > val.MaxPayloadSize {
		return blockVerdict("payload_size", http.StatusBadRequest,
			fmt.Sprintf("payload too large: %d bytes (limit %d)", len(view.body), val.MaxPayloadSize)), nil
	}

	prep := e.matcher.prepare(view)
	var findings []Finding

	// 3. XSS — blocks on a finding in any surface.
	if *val.XSSCheck {
		found := e.matcher.match(prep, CategoryXSS)
		findings = append(findings, found...)
		if len(found) > 0 {
			return blockVerdict("xss", http.StatusBadRequest,
				fmt.Sprintf("xss pattern detected in %s", found[0].Location)), findings
		}
	}

	// 4. SQL injection.
	if *val.SQLInjectionCheck {
		found := e.matcher.match(prep, CategorySQL)
		findings = append(findings, found...)
		if len(found) > 0 {
			return blockVerdict("sql_injection", http.StatusBadRequest,
				fmt.Sprintf("sql injection pattern detected in %s", found[0].Location)), findings
		}
	}

	// 5. Command injection.
	if *val.CommandInjectionCheck {
		found := e.matcher.match(prep, CategoryCommand)
		findings = append(findings, found...)
		if len(found) > 0 {
			return blockVerdict("command_injection", http.StatusBadRequest,
				fmt.Sprintf("command injection pattern detected in %s", found[0].Location)), findings
		}
	}

	// 6. Path traversal blocks only on path findings; body and header
	// findings still count toward the threat score.
	if *val.PathTraversalCheck {
		found := e.matcher.match(prep, CategoryTraversal)
		findings = append(findings, found...)
		for _, f := range found {
			if f.Location == "path" {
				return blockVerdict("path_traversal", http.StatusBadRequest,
					"path traversal pattern detected in path"), findings
			}
		}
	}

	return verdict{}, findings
}
