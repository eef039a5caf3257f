package utils

import (
	"strconv"
)

// StringToInt converts string to int, returns 0 if error
func StringToInt(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// PageIndex parses a 0-based page number, negative or invalid values become 0.
func PageIndex(s string) int {
	if p := StringToInt(s); p > 0 {
		return p
	}
	return 0
}

// PageCount 总页数，至少为 1
func PageCount(total int64, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 1
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
