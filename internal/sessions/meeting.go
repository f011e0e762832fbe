package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// LinkProvider issues rooms on a hosted meeting service addressed by URL.
type LinkProvider struct {
	BaseURL string
}

// NewLinkProvider returns a provider rooted at baseURL.
func NewLinkProvider(baseURL string) *LinkProvider {
	return &LinkProvider{BaseURL: strings.TrimRight(baseURL, "/")}
}

// CreateRoom derives a room name from the session id and a random password.
func (p *LinkProvider) CreateRoom(_ context.Context, s *Session) (Room, error) {
	secret := make([]byte, 6)
	if _, err := rand.Read(secret); err != nil {
		return Room{}, fmt.Errorf("sessions: room password: %w", err)
	}
	id := "therapy-" + strings.ReplaceAll(s.ID.String(), "-", "")[:12]
	password := hex.EncodeToString(secret)
	link := p.BaseURL + "/" + url.PathEscape(id)
	return Room{ID: id, Password: password, Link: link}, nil
}
