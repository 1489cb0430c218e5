package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseWaID parses a conversation address. A leading "+" is accepted.
func ParseWaID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	if s == "" {
		return 0, fmt.Errorf("empty wa_id")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid wa_id %q", s)
	}
	return id, nil
}

// FormatWaID renders a wa_id without a leading "+"
func FormatWaID(id int64) string {
	return strconv.FormatInt(id, 10)
}
