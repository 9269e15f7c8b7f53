// Package safety scans LLM output for destructive command patterns and
// annotates it before it reaches a caller. It never touches the detector's
// sensitivity pipeline — this is a distinct, output-only defense.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects how Annotate reacts to a match.
type Mode string

const (
	// ModeWarning appends a summary of detected issues after the text.
	ModeWarning Mode = "warning"
	// ModeBlock replaces each matched command with a bracketed notice.
	ModeBlock Mode = "block"
	// ModeSilent returns the text unchanged; issues are still scannable.
	ModeSilent Mode = "silent"
)

type pattern struct {
	re          *regexp.Regexp
	description string
}

// defaultPatterns is a representative subset of the source's dangerous
// command battery, covering one example per category it groups commands
// into (filesystem destruction, system control, container/orchestration,
// database, cloud infrastructure, network, permissions, resource exhaustion,
// scheduled tasks).
var defaultPatterns = []pattern{
	{regexp.MustCompile(`(?i)rm\s+-rf\s+/`), "Recursive delete from root directory"},
	{regexp.MustCompile(`(?i)mkfs\.\w+\s+/dev/`), "Format disk/partition"},
	{regexp.MustCompile(`(?i)dd\s+if=\S+\s+of=/dev/[sh]d[a-z]`), "Direct disk write"},
	{regexp.MustCompile(`(?i)shutdown\s+-[hr]\s+now`), "Immediate system shutdown/reboot"},
	{regexp.MustCompile(`(?i)systemctl\s+poweroff`), "System poweroff"},
	{regexp.MustCompile(`(?i)kubectl\s+delete\s+(?:namespace|ns)\s+--all`), "Delete all Kubernetes namespaces"},
	{regexp.MustCompile(`(?i)docker\s+system\s+prune\s+-a\s+--volumes\s+--force`), "Prune all Docker data"},
	{regexp.MustCompile(`(?i)DROP\s+DATABASE\s+\w+`), "Drop database"},
	{regexp.MustCompile(`(?i)TRUNCATE\s+TABLE`), "Truncate table"},
	{regexp.MustCompile(`(?i)aws\s+s3\s+rb\s+s3://\S*--force`), "Force delete S3 bucket"},
	{regexp.MustCompile(`(?i)terraform\s+destroy\s+-auto-approve`), "Auto-approve Terraform destroy"},
	{regexp.MustCompile(`(?i)gcloud\s+projects\s+delete`), "Delete GCP project"},
	{regexp.MustCompile(`(?i)iptables\s+-F`), "Flush all iptables rules"},
	{regexp.MustCompile(`(?i)ufw\s+disable`), "Disable firewall"},
	{regexp.MustCompile(`(?i)chmod\s+777\s+/`), "Set world-writable permissions on root"},
	{regexp.MustCompile(`(?i)userdel\s+-r\s+root`), "Delete root user"},
	{regexp.MustCompile(`:\(\)\{\s*:\|:&\s*\};:`), "Fork bomb pattern"},
	{regexp.MustCompile(`(?i)crontab\s+-r`), "Remove all cron jobs"},
}

// Issue is one matched dangerous command.
type Issue struct {
	MatchedText string
	Description string
	Start       int
	End         int
}

// Filter scans text for dangerous command patterns.
type Filter struct {
	patterns []pattern
}

// New builds a Filter over the default pattern battery plus any extra
// patterns supplied (the deployment-specific extension point the source's
// SAFETY_CONFIG_PATH served).
func New(extra map[string]string) *Filter {
	f := &Filter{patterns: append([]pattern(nil), defaultPatterns...)}
	for expr, description := range extra {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			continue
		}
		f.patterns = append(f.patterns, pattern{re: re, description: description})
	}
	return f
}

// Scan returns every dangerous command match found in text, in the order
// patterns were registered (not necessarily sorted by Start).
func (f *Filter) Scan(text string) []Issue {
	var issues []Issue
	for _, p := range f.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			issues = append(issues, Issue{
				MatchedText: text[loc[0]:loc[1]],
				Description: p.description,
				Start:        loc[0],
				End:          loc[1],
			})
		}
	}
	return issues
}

// Annotate scans text and applies mode's transformation.
func (f *Filter) Annotate(text string, mode Mode) string {
	issues := f.Scan(text)
	if len(issues) == 0 {
		return text
	}

	switch mode {
	case ModeSilent:
		return text
	case ModeBlock:
		return blockIssues(text, issues)
	default:
		return appendWarning(text, issues)
	}
}

func blockIssues(text string, issues []Issue) string {
	sorted := append([]Issue(nil), issues...)
	sortByStartDescending(sorted)

	result := text
	for _, issue := range sorted {
		replacement := fmt.Sprintf("[BLOCKED: %s]", issue.Description)
		result = result[:issue.Start] + replacement + result[issue.End:]
	}
	return result
}

func sortByStartDescending(issues []Issue) {
	for i := 1; i < len(issues); i++ {
		for j := i; j > 0 && issues[j-1].Start < issues[j].Start; j-- {
			issues[j-1], issues[j] = issues[j], issues[j-1]
		}
	}
}

func appendWarning(text string, issues []Issue) string {
	if len(issues) == 1 {
		return text + fmt.Sprintf("\n\n[SAFETY WARNING] Potentially destructive command detected:\n  - %s", issues[0].Description)
	}

	shown := issues
	more := 0
	if len(issues) > 5 {
		shown = issues[:5]
		more = len(issues) - 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n\n[SAFETY WARNING] %d potentially destructive commands detected:\n", len(issues))
	for _, issue := range shown {
		fmt.Fprintf(&b, "  - %s\n", issue.Description)
	}
	if more > 0 {
		fmt.Fprintf(&b, "  ... and %d more\n", more)
	}
	return text + strings.TrimRight(b.String(), "\n")
}
