package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// ProgressFunc receives download progress. percent is 0-100; etaSeconds is -1 when unknown.
type ProgressFunc func(percent float64, etaSeconds int64, line string)

var (
	rePct = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reETA = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
)

// ParseProgress extracts the percentage and ETA from a "[download]" status line
func ParseProgress(line string) (percent float64, etaSeconds int64, ok bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "[download]") {
		return 0, -1, false
	}
	m := rePct.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, -1, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, -1, false
	}

	etaSeconds = -1
	if e := reETA.FindStringSubmatch(line); len(e) > 1 {
		if secs, ok := parseClock(e[1]); ok {
			etaSeconds = secs
		}
	}
	return percent, etaSeconds, true
}

// parseClock parses "ss", "mm:ss" or "hh:mm:ss"
func parseClock(s string) (int64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total int64
	for _, p := range parts {
		if p == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}
