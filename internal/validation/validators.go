// Package validation holds the small, dependency-free field validators that
// the validate stage calls directly: NPI/tenant identifiers, free-text inputs that end up in
// logs or SQL, and the pagination/time-range parameters on the read-only
// status and event-tracker endpoints.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// ProviderReference identifies the provider organization submitting a
// bundle: the tenant slug it belongs to, its National Provider Identifier,
// and a provider name in lowercase identifier form. Mirrors the shape (and validation rigor) of a
// Kubernetes object reference, since that is the teacher's idiom for a
// "namespace/kind/name"-style triple — applied here to tenant/NPI/name.
type ProviderReference struct {
	Tenant string
	NPI    string
	Name   string
}

var (
	tenantPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)
	npiPattern    = regexp.MustCompile(`^\d{10}$`)
	namePattern   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

// ValidateProviderReference checks tenant/NPI/name against PAGW's provider
// registry addressing rules, accumulating every violation rather than
// stopping at the first.
func ValidateProviderReference(ref ProviderReference) error {
	var issues []string

	if ref.Tenant == "" {
		issues = append(issues, "tenant is required")
	} else if len(ref.Tenant) > 63 {
		issues = append(issues, "tenant must be 63 characters or less")
	} else if !tenantPattern.MatchString(ref.Tenant) {
		issues = append(issues, "tenant must be a valid lowercase tenant slug")
	}

	if ref.NPI == "" {
		issues = append(issues, "NPI is required")
	} else if !npiPattern.MatchString(ref.NPI) {
		issues = append(issues, "NPI must be exactly 10 digits")
	}

	if ref.Name == "" {
		issues = append(issues, "name is required")
	} else if len(ref.Name) > 253 {
		issues = append(issues, "name must be 253 characters or less")
	} else if !namePattern.MatchString(ref.Name) {
		issues = append(issues, "name must be a valid provider identifier")
	}

	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(issues, "; "))
}

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union\s+select|;\s*drop\b|--|<script)`)
	controlCharPattern  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// ValidateStringInput rejects free-text field values that are too long,
// contain SQL-injection-shaped substrings, or carry raw control characters.
func ValidateStringInput(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s must be %d characters or less", field, maxLen)
	}
	if sqlInjectionPattern.MatchString(value) {
		return fmt.Errorf("%s contains potentially unsafe characters", field)
	}
	if controlCharPattern.MatchString(value) {
		return fmt.Errorf("%s contains invalid control characters", field)
	}
	return nil
}

var validRequestTypes = map[string]bool{
	"initial":      true,
	"appeal":       true,
	"inquiry":      true,
	"cancellation": true,
	"update":       true,
}

// ValidateRequestType checks the submission's requestType against the set
// the pipeline definition (internal/pipeline) knows how to route.
func ValidateRequestType(requestType string) error {
	if sqlInjectionPattern.MatchString(requestType) || controlCharPattern.MatchString(requestType) {
		return fmt.Errorf("request type contains potentially unsafe characters")
	}
	if !validRequestTypes[requestType] {
		return fmt.Errorf("%q is not a recognized request type", requestType)
	}
	return nil
}

var timeRangePattern = regexp.MustCompile(`^\d+[mhd]$`)

// ValidateTimeRange checks a duration shorthand like "1h", "24h", "7d" used
// by the event-tracker read API's time-window query parameter.
func ValidateTimeRange(timeRange string) error {
	if sqlInjectionPattern.MatchString(timeRange) {
		return fmt.Errorf("time range contains potentially unsafe characters")
	}
	if !timeRangePattern.MatchString(timeRange) {
		return fmt.Errorf("time range must be in format like 1h, 24h, 7d")
	}
	return nil
}

// ValidateWindowMinutes bounds a minutes-based window (e.g. idempotency TTL
// overrides, sync-deadline tuning) to at most seven days.
func ValidateWindowMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("window minutes must be greater than 0")
	}
	if minutes > 10080 {
		return fmt.Errorf("window minutes must be 7 days (10080 minutes) or less")
	}
	return nil
}

// ValidateLimit bounds a pagination limit on the status/event-tracker read
// endpoints.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
	if limit > 10000 {
		return fmt.Errorf("limit must be 10000 or less")
	}
	return nil
}

// SanitizeForLogging strips raw control characters and truncates to 200
// characters so a malformed claim bundle field can never corrupt or flood
// the structured log stream.
func SanitizeForLogging(input string) string {
	sanitized := controlCharPattern.ReplaceAllString(input, "?")
	if len(sanitized) > 200 {
		return sanitized[:197] + "..."
	}
	return sanitized
}
