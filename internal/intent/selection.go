package intent

import (
	"regexp"
	"strconv"
	"strings"
)

var selectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+)$`),
	regexp.MustCompile(`^(\d+)\s*[.)]`),
	regexp.MustCompile(`^(?:opcion|elegir|elijo|seleccionar|seleccion|quiero|me interesa|ver|numero|nro)\s+(?:el\s+|la\s+|numero\s+)?(\d+)\b`),
	regexp.MustCompile(`^(?:el producto|la opcion|el numero|el|la|opcion)\s+(\d+)\b`),
}

var spelledNumbers = map[string]string{
	"uno": "1", "una": "1", "dos": "2", "tres": "3", "cuatro": "4", "cinco": "5",
	"seis": "6", "siete": "7", "ocho": "8", "nueve": "9", "diez": "10",
	"primero": "1", "primera": "1", "segundo": "2", "segunda": "2", "tercero": "3",
	"tercera": "3", "cuarto": "4", "cuarta": "4", "quinto": "5", "quinta": "5",
}

// DetectNumericSelection recognizes "3", "3.", "3)", "opción 3", "quiero el 3",
// "el producto 3", "la dos"... It returns ok=false when the text holds no
// clear selection; free text is never coerced to a number.
func DetectNumericSelection(text string) (n int, ok bool) {
	folded := Fold(text)
	if folded == "" {
		return 0, false
	}
	if n, ok := matchSelection(folded); ok {
		return n, true
	}
	// Spelled numbers only count when the number closes the message, so
	// "quiero una carpa" is not read as option 1.
	replaced, changed := replaceSpelled(folded)
	if !changed {
		return 0, false
	}
	replaced = strings.TrimRight(replaced, ".,)!? ")
	n, ok = matchSelection(replaced)
	if !ok || !strings.HasSuffix(replaced, strconv.Itoa(n)) {
		return 0, false
	}
	return n, true
}

func matchSelection(s string) (int, bool) {
	for _, re := range selectionPatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// replaceSpelled swaps spelled-out numbers for digits, token by token.
func replaceSpelled(s string) (string, bool) {
	fields := strings.Fields(s)
	changed := false
	for i, f := range fields {
		trimmed := strings.TrimRight(f, ".),!?")
		if d, ok := spelledNumbers[trimmed]; ok {
			fields[i] = d + f[len(trimmed):]
			changed = true
		}
	}
	return strings.Join(fields, " "), changed
}
