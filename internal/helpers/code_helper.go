package helpers

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// ticketCodeBytes is the entropy behind every ticket code. 16 random bytes
// hex-encoded gives a 32-character token; collisions are negligible and the
// database unique constraint on ticket_code is the final backstop.
const ticketCodeBytes = 16

var ticketCodePattern = regexp.MustCompile(`^[0-9A-F]{32}$`)

// GenerateTicketCode mints a collision-resistant ticket code, uppercased for
// readability on printed tickets.
func GenerateTicketCode() (string, error) {
	buf := make([]byte, ticketCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// IsValidTicketCode checks the shape of a client-supplied code before it is
// used in a lookup.
func IsValidTicketCode(code string) bool {
	return ticketCodePattern.MatchString(code)
}
