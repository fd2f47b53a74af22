package rooms

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var defaultPermissions = []string{
	"allow_join",
	"allow_mod",
	"ask_join",
	"allow_webcam",
	"allow_mic",
	"allow_screen_share",
}

var defaultRoles = []string{"participant"}

// tokenClaims is the VideoSDK access-token payload (HS256, signed with the API secret).
type tokenClaims struct {
	jwt.RegisteredClaims

	APIKey        string        `json:"apikey"`
	Permissions   []string      `json:"permissions"`
	Version       int           `json:"version"`
	RoomID        string        `json:"roomId,omitempty"`
	ParticipantID string        `json:"participantId,omitempty"`
	Roles         []string      `json:"roles"`
	Webhook       *tokenWebhook `json:"webhook,omitempty"`
}

type tokenWebhook struct {
	EndPoint string `json:"endPoint"`
}

type tokenMinter struct {
	apiKey     string
	secret     []byte
	webhookURL string
	ttl        time.Duration
	now        func() time.Time
}

func (m tokenMinter) mint(roomID, participantID string) (string, error) {
	if roomID == "" || participantID == "" {
		return "", errors.New("rooms: room id and participant id are required")
	}
	if m.apiKey == "" || len(m.secret) == 0 {
		return "", errors.New("rooms: api key and secret are required")
	}

	now := m.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		APIKey:        m.apiKey,
		Permissions:   defaultPermissions,
		Version:       2,
		RoomID:        roomID,
		ParticipantID: participantID,
		Roles:         defaultRoles,
	}
	if m.webhookURL != "" {
		claims.Webhook = &tokenWebhook{EndPoint: m.webhookURL}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
