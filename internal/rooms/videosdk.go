package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callhub/internal/config"
)

const maxErrorBody = 4 << 10

// VideoSDKProvider is the VideoSDK REST adapter.
// It intentionally avoids any provider SDK dependency.
type VideoSDKProvider struct {
	baseURL    string
	webhookURL string
	client     *http.Client
	tokens     tokenMinter
	now        func() time.Time
}

// NewVideoSDKProvider builds the adapter. client may be nil; a client with cfg.Timeout is used.
func NewVideoSDKProvider(cfg config.ProviderConfig, client *http.Client) (*VideoSDKProvider, error) {
	if cfg.APIKey == "" || cfg.Secret == "" {
		return nil, errors.New("rooms: videosdk api key and secret are required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("rooms: videosdk base url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 120 * time.Minute
	}
	p := &VideoSDKProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		webhookURL: cfg.WebhookBaseURL,
		client:     client,
		now:        time.Now,
	}
	p.tokens = tokenMinter{
		apiKey:     cfg.APIKey,
		secret:     []byte(cfg.Secret),
		webhookURL: cfg.WebhookBaseURL,
		ttl:        ttl,
		now:        func() time.Time { return p.now() },
	}
	return p, nil
}

func (p *VideoSDKProvider) Name() string { return "videosdk" }

func (p *VideoSDKProvider) GenerateToken(roomID, participantID string) (string, error) {
	return p.tokens.mint(roomID, participantID)
}

type roomSettings struct {
	Mode        string              `json:"mode"`
	Quality     string              `json:"quality"`
	Layout      roomLayout          `json:"layout"`
	Permissions roomPermissionFlags `json:"permissions"`
}

type roomLayout struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	GridSize int    `json:"gridSize"`
}

type roomPermissionFlags struct {
	AskToJoin                    bool `json:"askToJoin"`
	ToggleParticipantMic         bool `json:"toggleParticipantMic"`
	ToggleParticipantWebcam      bool `json:"toggleParticipantWebcam"`
	ToggleParticipantScreenshare bool `json:"toggleParticipantScreenshare"`
	RemoveParticipant            bool `json:"removeParticipant"`
	EndMeeting                   bool `json:"endMeeting"`
}

type createRoomRequest struct {
	CustomRoomID string       `json:"customRoomId"`
	Settings     roomSettings `json:"settings"`
}

type createRoomResponse struct {
	RoomID       string `json:"roomId"`
	CustomRoomID string `json:"customRoomId"`
}

var conferenceSettings = roomSettings{
	Mode:    "CONFERENCE",
	Quality: "high",
	Layout:  roomLayout{Type: "GRID", Priority: "SPEAKER", GridSize: 4},
	Permissions: roomPermissionFlags{
		ToggleParticipantMic:         true,
		ToggleParticipantWebcam:      true,
		ToggleParticipantScreenshare: true,
		RemoveParticipant:            true,
		EndMeeting:                   true,
	},
}

func (p *VideoSDKProvider) CreateRoom(ctx context.Context, channelID, token string) (Room, error) {
	if channelID == "" || token == "" {
		return Room{}, errors.New("rooms: channel id and token are required")
	}
	body := createRoomRequest{
		CustomRoomID: fmt.Sprintf("channel-%s-%d", channelID, p.now().UnixMilli()),
		Settings:     conferenceSettings,
	}
	var out createRoomResponse
	if err := p.post(ctx, "create room", "/rooms", token, body, &out); err != nil {
		return Room{}, err
	}
	if out.RoomID == "" {
		return Room{}, errors.New("rooms: create room: provider returned no roomId")
	}
	return Room{RoomID: out.RoomID, CustomRoomID: out.CustomRoomID}, nil
}

func (p *VideoSDKProvider) EndRoom(ctx context.Context, roomID, token string) error {
	if roomID == "" || token == "" {
		return errors.New("rooms: room id and token are required")
	}
	return p.post(ctx, "end room", "/rooms/deactivate", token, map[string]string{"roomId": roomID}, nil)
}

type recordingRequest struct {
	Template string        `json:"template"`
	Webhook  *tokenWebhook `json:"webhook,omitempty"`
}

func (p *VideoSDKProvider) StartRecording(ctx context.Context, roomID, token string) error {
	if roomID == "" || token == "" {
		return errors.New("rooms: room id and token are required")
	}
	body := recordingRequest{Template: "GRID"}
	if p.webhookURL != "" {
		body.Webhook = &tokenWebhook{EndPoint: p.webhookURL}
	}
	return p.post(ctx, "start recording", "/rooms/"+url.PathEscape(roomID)+"/recording/start", token, body, nil)
}

func (p *VideoSDKProvider) StopRecording(ctx context.Context, roomID, token string) error {
	if roomID == "" || token == "" {
		return errors.New("rooms: room id and token are required")
	}
	return p.post(ctx, "stop recording", "/rooms/"+url.PathEscape(roomID)+"/recording/stop", token, struct{}{}, nil)
}

func (p *VideoSDKProvider) post(ctx context.Context, op, path, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("rooms: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rooms: %s: %w", op, err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("rooms: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rooms: %s: decode: %w", op, err)
	}
	return nil
}
