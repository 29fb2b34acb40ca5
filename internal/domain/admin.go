package domain

// ============================================================
// Admin API: request / response types
// ============================================================

// TokenRequest is the body for POST /api/auth/token.
type TokenRequest struct {
	Password string `json:"password"`
}

// TokenResponse is the body for 200 from POST /api/auth/token.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// SendMessageRequest is the body for POST /api/messages/send.
type SendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessageResponse confirms an operator message was handed to the
// transport.
type SendMessageResponse struct {
	To       string `json:"to"`
	Recorded bool   `json:"recorded"`
}
