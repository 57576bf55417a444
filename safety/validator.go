// Package safety classifies requested commands and paths by risk and
// containment. All functions are pure; the package holds no state.
package safety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// SandboxPolicy is the coarse permission tier for the workspace.
type SandboxPolicy string

const (
	PolicyReadOnly       SandboxPolicy = "read-only"
	PolicyWorkspaceWrite SandboxPolicy = "workspace-write"
	PolicyFullAccess     SandboxPolicy = "full-access"
)

// RiskLevel classifies an action's potential for harm.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CommandVerdict is the outcome of ValidateCommand.
type CommandVerdict struct {
	Allowed          bool
	RequiresApproval bool
	Risk             RiskLevel
	Reason           string
}

// PathVerdict is the outcome of ValidatePath.
type PathVerdict struct {
	Allowed  bool
	Resolved string
	Reason   string
}

// blockedPatterns are rejected unconditionally, under every sandbox policy.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+(/|/\*|~|\$HOME)(\s|$)`),
	regexp.MustCompile(`\bdd\b.*\bof=/dev/(sd|hd|nvme|disk)`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|disk)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|`), // fork bomb
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\s+/(\s|$)`),
}

// dangerousPatterns are allowed but flagged for approval at high risk.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+push\b`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+clean\s+-[a-zA-Z]*f`),
	regexp.MustCompile(`\b(npm|yarn|pnpm)\s+publish\b`),
	regexp.MustCompile(`\bcargo\s+publish\b`),
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r`),
	regexp.MustCompile(`\bkubectl\s+delete\b`),
	regexp.MustCompile(`\bterraform\s+(apply|destroy)\b`),
}

// sensitivePathPatterns are denied everywhere, even inside the workspace and
// even under full-access. Matched against the cleaned path and its base name.
var sensitivePathPatterns = []string{
	".env",
	".env.*",
	"id_rsa",
	"id_rsa.*",
	"id_ed25519",
	"id_ed25519.*",
	"id_dsa",
	"*.pem",
	"*.key",
	".netrc",
	".npmrc",
	".pgpass",
	".bash_history",
	".zsh_history",
	"credentials",
	"credentials.json",
	"secrets.yaml",
	"secrets.yml",
}

// sensitiveDirSegments deny any path passing through these directories.
var sensitiveDirSegments = []string{".ssh", ".aws", ".gnupg", ".kube"}

// ValidateCommand classifies a shell command under the given sandbox policy.
//
// Three tiers are checked in order: the unconditional block list (terminal,
// even under full-access), the sandbox policy gate, and the dangerous
// pattern list (allowed but flagged for approval at high risk).
func ValidateCommand(command string, policy SandboxPolicy) CommandVerdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return CommandVerdict{Allowed: false, Risk: RiskLow, Reason: "empty command"}
	}

	// Tier 1: the block list wins over every policy, including full-access.
	for _, re := range blockedPatterns {
		if re.MatchString(trimmed) {
			return CommandVerdict{
				Allowed: false,
				Risk:    RiskHigh,
				Reason:  fmt.Sprintf("command matches blocked pattern %q", re.String()),
			}
		}
	}

	// Tier 2: policy gate.
	if policy == PolicyReadOnly {
		return CommandVerdict{
			Allowed: false,
			Risk:    RiskMedium,
			Reason:  "command execution is disabled under the read-only sandbox policy",
		}
	}

	// Tier 3: dangerous but permitted, subject to approval.
	for _, re := range dangerousPatterns {
		if re.MatchString(trimmed) {
			return CommandVerdict{
				Allowed:          true,
				RequiresApproval: true,
				Risk:             RiskHigh,
				Reason:           fmt.Sprintf("command matches dangerous pattern %q", re.String()),
			}
		}
	}

	return CommandVerdict{Allowed: true, Risk: RiskLow}
}

// ValidatePath checks containment within the workspace root and the
// sensitive-file list. The two checks are orthogonal: a sensitive file is
// denied even inside the workspace and even under full-access; an escaping
// path is denied under every policy except full-access.
func ValidatePath(path, workspaceRoot string, policy SandboxPolicy) PathVerdict {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return PathVerdict{Allowed: false, Reason: "path is required"}
	}

	rootAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return PathVerdict{Allowed: false, Reason: fmt.Sprintf("resolve workspace root: %v", err)}
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return PathVerdict{Allowed: false, Reason: fmt.Sprintf("resolve path: %v", err)}
	}

	// Sensitivity check first: terminal regardless of containment or policy.
	if reason, sensitive := matchSensitive(targetAbs); sensitive {
		return PathVerdict{Allowed: false, Resolved: targetAbs, Reason: reason}
	}

	// Containment check.
	rel, err := filepath.Rel(rootAbs, targetAbs)
	escapes := err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
	if escapes && policy != PolicyFullAccess {
		return PathVerdict{
			Allowed:  false,
			Resolved: targetAbs,
			Reason:   fmt.Sprintf("path %s escapes the workspace root (traversal)", clean),
		}
	}

	return PathVerdict{Allowed: true, Resolved: targetAbs}
}

// matchSensitive reports whether the path hits a sensitive-file pattern.
func matchSensitive(absPath string) (string, bool) {
	base := filepath.Base(absPath)
	for _, pattern := range sensitivePathPatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return fmt.Sprintf("access to sensitive file %q is always denied", base), true
		}
	}
	for _, seg := range strings.Split(filepath.ToSlash(absPath), "/") {
		for _, dir := range sensitiveDirSegments {
			if seg == dir {
				return fmt.Sprintf("access under %s/ is always denied", dir), true
			}
		}
	}
	return "", false
}

// AssessRisk classifies a tool action so the approval workflow can reuse the
// same taxonomy for non-command actions. Command risk should come from
// ValidateCommand; this covers everything else by tool name and target path.
func AssessRisk(toolName, targetPath string) RiskLevel {
	switch toolName {
	case "write_file", "edit_file":
		if looksSensitive(targetPath) {
			return RiskHigh
		}
		return RiskMedium
	case "delete_file":
		return RiskHigh
	case "git_push":
		return RiskHigh
	case "http_request":
		return RiskMedium
	default:
		return RiskLow
	}
}

func looksSensitive(path string) bool {
	if path == "" {
		return false
	}
	_, sensitive := matchSensitive(filepath.Clean(path))
	return sensitive
}
