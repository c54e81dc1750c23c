package statement

import (
	"strings"

	"github.com/bitbaso/Arindu/pkg/models"
)

// FormatValue renders a value as a SQL literal:
// NULL, quoted text with quotes doubled, quoted YYYY-MM-DD HH:MM:SS
// timestamps, 1/0 booleans and plain numbers.
func FormatValue(v models.Value) string {
	switch v.Kind {
	case models.Null:
		return "NULL"
	case models.Text, models.Timestamp:
		return QuoteText(v.String())
	default:
		return v.String()
	}
}

// QuoteText single-quotes s, doubling embedded quotes
func QuoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// UnquoteText reverses QuoteText. ok is false if s is not a well formed literal.
func UnquoteText(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\'' {
			if i+1 >= len(body) || body[i+1] != '\'' {
				return "", false
			}
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), true
}
