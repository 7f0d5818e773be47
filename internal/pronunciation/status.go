package pronunciation

import (
	"strings"

	"github.com/MrWong99/dizai/internal/feedback"
)

// DeriveStatus returns explicit when it names a known status. Otherwise the
// status follows from devs: none is perfect, any major deviation means try
// again, and only minor ones mean almost.
func DeriveStatus(explicit string, devs []feedback.Deviation) feedback.Status {
	if s := normalizeStatus(explicit); s.Valid() {
		return s
	}
	if len(devs) == 0 {
		return feedback.StatusPerfect
	}
	for _, d := range devs {
		if d.Severity == feedback.SeverityMajor {
			return feedback.StatusTryAgain
		}
	}
	return feedback.StatusAlmost
}

// normalizeStatus folds case and spacing so "Try again" reads as tryagain.
func normalizeStatus(s string) feedback.Status {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	return feedback.Status(s)
}

// normalizeSeverity maps anything other than "major" to minor.
func normalizeSeverity(s feedback.Severity) feedback.Severity {
	if strings.EqualFold(strings.TrimSpace(string(s)), string(feedback.SeverityMajor)) {
		return feedback.SeverityMajor
	}
	return feedback.SeverityMinor
}
