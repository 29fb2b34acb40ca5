package service

import (
	"regexp"
	"strings"

	"github.com/boddenberg/wa-commerce-bot/internal/intent"
)

// Markers are the control tokens the guided prompt asks the model to embed
// in its reply. Every field is optional; a reply without markers is plain
// text.
type Markers struct {
	Color      string
	Address    string
	Shipping   string // normalized to shippingHome or shippingAgency
	Complete   bool
	SendImages bool
}

// Any reports whether at least one marker was found.
func (m Markers) Any() bool {
	return m.Color != "" || m.Address != "" || m.Shipping != "" || m.Complete || m.SendImages
}

var (
	colorMarker    = regexp.MustCompile(`(?i)\[\s*COLOR\s*:\s*([^\]]*)\]`)
	addressMarker  = regexp.MustCompile(`(?i)\[\s*DIRECCI(?:O|Ó)N\s*:\s*([^\]]*)\]`)
	shippingMarker = regexp.MustCompile(`(?i)\[\s*ENV(?:I|Í)O\s*:\s*([^\]]*)\]`)
	completeMarker = regexp.MustCompile(`(?i)\[\s*DATOS_COMPLETOS\s*\]`)
	imagesMarker   = regexp.MustCompile(`(?i)\[\s*ENVIAR_IM(?:A|Á)GENES\s*\]`)

	allMarkers = []*regexp.Regexp{colorMarker, addressMarker, shippingMarker, completeMarker, imagesMarker}
)

// ParseMarkers extracts the markers from reply and returns the text with
// every marker removed.
func ParseMarkers(reply string) (string, Markers) {
	var m Markers
	m.Color = firstGroup(colorMarker, reply)
	m.Address = firstGroup(addressMarker, reply)
	m.Shipping = ShippingType(firstGroup(shippingMarker, reply))
	m.Complete = completeMarker.MatchString(reply)
	m.SendImages = imagesMarker.MatchString(reply)
	return StripMarkers(reply), m
}

// StripMarkers removes every marker and tidies the leftover whitespace,
// keeping line breaks.
func StripMarkers(s string) string {
	for _, re := range allMarkers {
		s = re.ReplaceAllString(s, "")
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = CollapseSpaces(l)
		if l == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ShippingType maps customer wording onto the two delivery options. It
// returns "" when text names neither.
func ShippingType(text string) string {
	folded := intent.Fold(text)
	if folded == "1" {
		return shippingHome
	}
	if folded == "2" {
		return shippingAgency
	}
	for _, w := range strings.FieldsFunc(folded, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	}) {
		switch w {
		case "domicilio", "casa", "delivery":
			return shippingHome
		case "agencia", "recojo", "recoger", "shalom":
			return shippingAgency
		}
	}
	return ""
}
