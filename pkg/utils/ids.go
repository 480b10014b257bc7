package utils

import (
	"errors"
	"strconv"
	"strings"
)

// ParseDiscordID validates a Discord snowflake: a non-empty unsigned
// 64-bit integer. The canonical decimal form is returned.
func ParseDiscordID(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", errors.New("discord id is required")
	}
	n, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return "", errors.New("discord id must be an unsigned integer")
	}
	return strconv.FormatUint(n, 10), nil
}

// ValidateSlackChannelID checks that s looks like a Slack conversation id
// (C, G or D followed by upper-case alphanumerics).
func ValidateSlackChannelID(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return "", errors.New("slack channel id is required")
	}
	switch trimmed[0] {
	case 'C', 'G', 'D':
	default:
		return "", errors.New("slack channel id must start with C, G or D")
	}
	for _, r := range trimmed[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", errors.New("slack channel id must be upper-case alphanumeric")
		}
	}
	return trimmed, nil
}

// Truncate shortens s to at most n runes for logging.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
