package audit

// techniqueMap maps blocking-stage labels to MITRE ATT&CK technique IDs.
// Stage labels come from engine Decision.Stage (e.g. "xss", "sql_injection")
// and are attached to blocked audit entries for SIEM correlation.
//
// Technique IDs follow the format T####[.###] (base or sub-technique).
// Policy refusals (https, content_type) and operational events (config
// reload, lockdown deny, shutdown) have no technique mapping because they
// represent compliance or operator outcomes, not attack signals.
var techniqueMap = map[string]string{
	// Resource exhaustion (rate limiter and size caps)
	"rate_limit":   "T1499",     // Endpoint Denial of Service
	"header_size":  "T1499.003", // Application Exhaustion Flood
	"payload_size": "T1499.003", // Application Exhaustion Flood

	// Injection (validator categories, also surfaced by the threat self-scan)
	"xss":               "T1059.007", // Command and Scripting Interpreter: JavaScript
	"sql_injection":     "T1190",     // Exploit Public-Facing Application
	"command_injection": "T1059.004", // Command and Scripting Interpreter: Unix Shell
	"path_traversal":    "T1083",     // File and Directory Discovery

	// Session and credential abuse
	"csrf": "T1185",     // Browser Session Hijacking
	"auth": "T1550.001", // Use Alternate Authentication Material: Application Access Token

	// Reconnaissance (scanner user agents, bot heuristics, composite score)
	"threat": "T1595.002", // Active Scanning: Vulnerability Scanning
}

// TechniqueForStage returns the MITRE ATT&CK technique ID for a blocking
// stage label. Returns an empty string if no mapping exists (policy
// refusals, operational events, unknown labels).
func TechniqueForStage(stage string) string {
	return techniqueMap[stage]
}
