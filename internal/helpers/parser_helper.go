package helpers

import (
	"strconv"
)

func StringToInt(s string) (int, error) {
	return strconv.Atoi(s)
}

// StringToUint parses a positive integer id; anything else is an error so
// handlers can answer 400 before touching the database.
func StringToUint(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
