// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package livekit manages session rooms through the LiveKit RoomService
// Twirp API. Rooms are addressed by their deterministic name.
package livekit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/video/api"
)

const (
	roomServicePath = "/twirp/livekit.RoomService/"

	// tokenTTL bounds the admin tokens minted per request
	tokenTTL = 10 * time.Minute

	// defaultEmptyTimeout closes a room nobody joined
	defaultEmptyTimeout = 15 * time.Minute
)

// Config holds the configuration for the LiveKit provider
type Config struct {
	// Host is the LiveKit server URL, e.g. https://livekit.example.org
	Host      string
	APIKey    string
	APISecret string
	// JoinBaseURL is the web client participants open; the room name is appended
	JoinBaseURL string
	Timeout     time.Duration
	// Optional: retry configuration
	MaxRetries     int
	InitialBackoff time.Duration
}

// IsConfigured reports whether the server and credentials are present.
func (c Config) IsConfigured() bool {
	return c.Host != "" && c.APIKey != "" && c.APISecret != ""
}

// Provider implements domain.VideoProvider for LiveKit.
type Provider struct {
	client      *api.Client
	joinBaseURL string
}

var _ domain.VideoProvider = (*Provider)(nil)

// videoGrant is the LiveKit permission claim.
type videoGrant struct {
	RoomCreate bool   `json:"roomCreate,omitempty"`
	RoomList   bool   `json:"roomList,omitempty"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	Room       string `json:"room,omitempty"`
}

type accessClaims struct {
	Video videoGrant `json:"video"`
	jwt.RegisteredClaims
}

// tokenTransport signs every request with a short-lived admin token.
type tokenTransport struct {
	base      http.RoundTripper
	apiKey    string
	apiSecret []byte
	now       func() time.Time
}

func (t *tokenTransport) token() (string, error) {
	now := t.now()
	claims := accessClaims{
		Video: videoGrant{RoomCreate: true, RoomList: true, RoomAdmin: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.apiKey,
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.apiSecret)
}

// RoundTrip implements http.RoundTripper.
func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.token()
	if err != nil {
		return nil, fmt.Errorf("failed to sign livekit token: %w", err)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(req)
}

// NewProvider creates a LiveKit provider.
func NewProvider(config Config) *Provider {
	transport := &tokenTransport{
		base:      http.DefaultTransport,
		apiKey:    config.APIKey,
		apiSecret: []byte(config.APISecret),
		now:       time.Now,
	}
	joinBase := config.JoinBaseURL
	if joinBase == "" {
		joinBase = config.Host
	}
	return &Provider{
		client: api.NewClient(api.Config{
			Provider:       models.ProviderLiveKit,
			BaseURL:        strings.TrimRight(config.Host, "/") + strings.TrimSuffix(roomServicePath, "/"),
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
		}, transport),
		joinBaseURL: strings.TrimRight(joinBase, "/"),
	}
}

type createRoomRequest struct {
	Name            string `json:"name"`
	EmptyTimeout    int    `json:"empty_timeout,omitempty"`
	MaxParticipants int    `json:"max_participants,omitempty"`
	Metadata        string `json:"metadata,omitempty"`
}

type room struct {
	SID             string `json:"sid"`
	Name            string `json:"name"`
	NumParticipants int    `json:"num_participants"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type listRoomsRequest struct {
	Names []string `json:"names"`
}

type listRoomsResponse struct {
	Rooms []room `json:"rooms"`
}

// CreateRoom implements domain.VideoProvider. LiveKit's CreateRoom returns
// the existing room when the name is taken, so retries are harmless.
func (p *Provider) CreateRoom(ctx context.Context, spec models.RoomSpec) (*models.CreatedRoom, error) {
	emptyTimeout := spec.EmptyTimeout
	if emptyTimeout <= 0 {
		emptyTimeout = defaultEmptyTimeout
	}
	req := createRoomRequest{
		Name:            spec.Name,
		EmptyTimeout:    int(emptyTimeout.Seconds()),
		MaxParticipants: spec.MaxParticipants,
		Metadata:        fmt.Sprintf(`{"session_id":%d,"tenant_id":%q}`, spec.SessionID, spec.TenantID),
	}

	var resp room
	if err := p.client.Do(ctx, http.MethodPost, "/CreateRoom", req, &resp); err != nil {
		return nil, err
	}
	name := resp.Name
	if name == "" {
		name = spec.Name
	}
	return &models.CreatedRoom{
		RoomRef: name,
		JoinURL: p.joinBaseURL + "/rooms/" + url.PathEscape(name),
	}, nil
}

// EndRoom implements domain.VideoProvider. Deleting a room disconnects its
// participants; a room that is already gone counts as ended.
func (p *Provider) EndRoom(ctx context.Context, roomRef string) error {
	err := p.client.Do(ctx, http.MethodPost, "/DeleteRoom", roomRequest{Room: roomRef}, nil)
	if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		return nil
	}
	return err
}

// GetRoomStatus implements domain.VideoProvider.
func (p *Provider) GetRoomStatus(ctx context.Context, roomRef string) (models.RoomState, error) {
	var resp listRoomsResponse
	if err := p.client.Do(ctx, http.MethodPost, "/ListRooms", listRoomsRequest{Names: []string{roomRef}}, &resp); err != nil {
		return models.RoomStateUnknown, err
	}
	for _, r := range resp.Rooms {
		if r.Name != roomRef {
			continue
		}
		if r.NumParticipants > 0 {
			return models.RoomStateActive, nil
		}
		return models.RoomStateCreated, nil
	}
	return models.RoomStateEnded, nil
}
