// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package zoom opens and closes session rooms as Zoom meetings using
// Server-to-Server OAuth.
package zoom

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/video/api"
)

const (
	// BaseURL is the base URL for Zoom API
	BaseURL = "https://api.zoom.us/v2"
	// AuthURL is the OAuth token endpoint
	AuthURL = "https://zoom.us/oauth/token"

	// meetingTypeScheduled is a one-off meeting with a fixed start time
	meetingTypeScheduled = 2
)

// Config holds the configuration for the Zoom provider
type Config struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	// UserID hosts the meetings; "me" is the account owner
	UserID string
	// Optional: override URLs for testing
	BaseURL string
	AuthURL string
	Timeout time.Duration
	// Optional: retry configuration
	MaxRetries     int
	InitialBackoff time.Duration
}

// IsConfigured reports whether credentials are present.
func (c Config) IsConfigured() bool {
	return c.AccountID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Provider implements domain.VideoProvider on top of the Zoom meetings API.
type Provider struct {
	client *api.Client
	userID string
}

var _ domain.VideoProvider = (*Provider)(nil)

// NewProvider creates a Zoom provider.
func NewProvider(config Config) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
	}
	if config.AuthURL == "" {
		config.AuthURL = AuthURL
	}
	if config.UserID == "" {
		config.UserID = "me"
	}

	// Zoom Server-to-Server OAuth requires the account_credentials grant
	oauthConfig := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.AuthURL,
		EndpointParams: url.Values{
			"grant_type": []string{"account_credentials"},
			"account_id": []string{config.AccountID},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}
	transport := &oauth2.Transport{
		Base:   http.DefaultTransport,
		Source: oauthConfig.TokenSource(context.Background()),
	}

	return &Provider{
		client: api.NewClient(api.Config{
			Provider:       models.ProviderZoom,
			BaseURL:        config.BaseURL,
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
		}, transport),
		userID: config.UserID,
	}
}

// createMeetingRequest is the subset of the Zoom create payload we send.
type createMeetingRequest struct {
	Topic     string          `json:"topic"`
	Type      int             `json:"type"`
	StartTime string          `json:"start_time"`
	Duration  int             `json:"duration"`
	Timezone  string          `json:"timezone"`
	Settings  meetingSettings `json:"settings"`
}

type meetingSettings struct {
	JoinBeforeHost        bool   `json:"join_before_host"`
	JoinBeforeHostMinutes int    `json:"jbh_time,omitempty"`
	WaitingRoom           bool   `json:"waiting_room"`
	MuteUponEntry         bool   `json:"mute_upon_entry"`
	AutoRecording         string `json:"auto_recording"`
}

type meetingResponse struct {
	ID      int64  `json:"id"`
	JoinURL string `json:"join_url"`
	Status  string `json:"status"`
}

type statusRequest struct {
	Action string `json:"action"`
}

// CreateRoom implements domain.VideoProvider.
func (p *Provider) CreateRoom(ctx context.Context, spec models.RoomSpec) (*models.CreatedRoom, error) {
	title := spec.Title
	if title == "" {
		title = spec.Name
	}
	req := createMeetingRequest{
		Topic:     title,
		Type:      meetingTypeScheduled,
		StartTime: spec.StartsAt.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  spec.DurationMinutes,
		Timezone:  "UTC",
		Settings: meetingSettings{
			JoinBeforeHost:        true,
			JoinBeforeHostMinutes: 10,
			MuteUponEntry:         true,
			AutoRecording:         "none",
		},
	}

	var resp meetingResponse
	if err := p.client.Do(ctx, http.MethodPost, "/users/"+url.PathEscape(p.userID)+"/meetings", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, domain.NewProviderError("zoom returned a meeting without id")
	}

	slog.DebugContext(ctx, "created zoom meeting", "zoom_meeting_id", resp.ID, "session_id", spec.SessionID)
	return &models.CreatedRoom{
		RoomRef: strconv.FormatInt(resp.ID, 10),
		JoinURL: resp.JoinURL,
	}, nil
}

// EndRoom implements domain.VideoProvider. A meeting that no longer exists
// counts as ended.
func (p *Provider) EndRoom(ctx context.Context, roomRef string) error {
	err := p.client.Do(ctx, http.MethodPut, "/meetings/"+url.PathEscape(roomRef)+"/status", statusRequest{Action: "end"}, nil)
	if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		return nil
	}
	return err
}

// GetRoomStatus implements domain.VideoProvider.
func (p *Provider) GetRoomStatus(ctx context.Context, roomRef string) (models.RoomState, error) {
	var resp meetingResponse
	err := p.client.Do(ctx, http.MethodGet, "/meetings/"+url.PathEscape(roomRef), nil, &resp)
	if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		return models.RoomStateEnded, nil
	}
	if err != nil {
		return models.RoomStateUnknown, err
	}
	return roomState(resp.Status), nil
}

func roomState(status string) models.RoomState {
	switch status {
	case "waiting":
		return models.RoomStateCreated
	case "started":
		return models.RoomStateActive
	case "finished", "ended":
		return models.RoomStateEnded
	default:
		return models.RoomStateUnknown
	}
}
