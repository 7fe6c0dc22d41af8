package app

import (
	"fmt"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
	// Commit is the short VCS revision, filled by ldflags.
	Commit = ""
)

func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format("2006-01-02")
	}

	if len(raw) >= len("2006-01-02") {
		date := raw[:len("2006-01-02")]
		if _, err := time.Parse("2006-01-02", date); err == nil {
			return date
		}
	}

	return raw
}

// BuildVersionWithDate renders "version (date, commit)" omitting unknown parts.
func BuildVersionWithDate() string {
	version := BuildVersion()
	details := make([]string, 0, 2)
	if buildDate := BuildDateYMD(); buildDate != "" {
		details = append(details, buildDate)
	}
	if commit := strings.TrimSpace(Commit); commit != "" {
		details = append(details, commit)
	}
	if len(details) == 0 {
		return version
	}

	return fmt.Sprintf("%s (%s)", version, strings.Join(details, ", "))
}
