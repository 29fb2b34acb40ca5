// Package transport holds the messaging adapters: Twilio's WhatsApp API
// and a console transport for local runs.
package transport

import "strings"

// SenderID converts a transport address ("whatsapp:+51987654321",
// "+51987654321") into the bot's sender id ("51987654321@c.us").
func SenderID(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "@") {
		return addr
	}
	addr = strings.TrimPrefix(addr, "whatsapp:")
	addr = strings.TrimPrefix(addr, "+")
	return addr + "@c.us"
}

// PhoneNumber strips the sender id down to its E.164 form with a leading +.
func PhoneNumber(senderID string) string {
	n := strings.TrimPrefix(strings.TrimSpace(senderID), "whatsapp:")
	if i := strings.IndexByte(n, '@'); i >= 0 {
		n = n[:i]
	}
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return n
}
