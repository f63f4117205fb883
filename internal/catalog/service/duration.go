package service

import (
	"regexp"
	"strconv"
	"strings"
)

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseDuration accepts the four duration shapes seen in manifests:
// ISO-8601 PT#H#M#S, HH:MM:SS, MM:SS and bare seconds. Anything else yields
// 0 with ok=false so the caller can record a warning.
func parseDuration(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}

	if m := isoDurationPattern.FindStringSubmatch(raw); m != nil && (m[1] != "" || m[2] != "" || m[3] != "") {
		hours := atoiOrZero(m[1])
		minutes := atoiOrZero(m[2])
		seconds := 0
		if m[3] != "" {
			f, err := strconv.ParseFloat(m[3], 64)
			if err != nil {
				return 0, false
			}
			seconds = int(f)
		}
		return hours*3600 + minutes*60 + seconds, true
	}

	if strings.Contains(raw, ":") {
		parts := strings.Split(raw, ":")
		switch len(parts) {
		case 3:
			h, ok1 := atoi(parts[0])
			m, ok2 := atoi(parts[1])
			s, ok3 := atoi(parts[2])
			if ok1 && ok2 && ok3 {
				return h*3600 + m*60 + s, true
			}
		case 2:
			m, ok1 := atoi(parts[0])
			s, ok2 := atoi(parts[1])
			if ok1 && ok2 {
				return m*60 + s, true
			}
		}
		return 0, false
	}

	if s, ok := atoi(raw); ok {
		return s, true
	}
	return 0, false
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func atoiOrZero(s string) int {
	n, _ := atoi(s)
	return n
}
