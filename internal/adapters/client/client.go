// Package client talks to the livecall server on behalf of a participant
// runtime: the REST calls over net/http and the invite feed over WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/dkeye/Livecall/internal/adapters/http"
	"github.com/dkeye/Livecall/internal/domain"
)

const (
	tokenCookie    = "ct"
	defaultTimeout = 10 * time.Second
)

// ErrServer is returned for failures the client has no typed mapping for.
var ErrServer = errors.New("server error")

// Client is one participant's connection to the server. The identity token
// is kept in a cookie jar shared by the REST and WebSocket paths.
type Client struct {
	base   *url.URL
	http   *http.Client
	jar    http.CookieJar
	logger zerolog.Logger
}

// New builds a client for baseURL using token as the caller identity.
func New(baseURL string, token domain.UserID) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if !domain.ValidUserID(token) {
		return nil, domain.ErrUserIDInvalid
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(base, []*http.Cookie{{Name: tokenCookie, Value: string(token), Path: "/"}})
	return &Client{
		base:   base,
		http:   &http.Client{Jar: jar, Timeout: defaultTimeout},
		jar:    jar,
		logger: log.With().Str("module", "adapters.client").Str("user", string(token)).Logger(),
	}, nil
}

// do sends body as JSON and decodes a 2xx response into out. A 204 leaves
// out untouched and reports found=false.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return true, nil
}

// decodeError maps the server's error code back to the typed domain error.
func decodeError(resp *http.Response) error {
	var body httpapi.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	switch body.Error {
	case domain.CodeFanNotReady:
		return &domain.NotReadyError{State: body.FanState}
	case httpapi.CodeRateLimited:
		return domain.ErrRateLimited
	case httpapi.CodeNotFound:
		return domain.ErrNotFound
	case httpapi.CodeForbidden:
		return domain.ErrForbidden
	case httpapi.CodeInviteNotPending:
		return domain.ErrInviteNotPending
	case httpapi.CodeInvalidTransition:
		return domain.ErrInvalidTransition
	}
	return fmt.Errorf("%w: %s", ErrServer, resp.Status)
}

func (c *Client) Me(ctx context.Context) (httpapi.MeResponse, error) {
	var out httpapi.MeResponse
	_, err := c.do(ctx, http.MethodGet, "/api/me", nil, &out)
	return out, err
}

func (c *Client) UpdateProfile(ctx context.Context, username, avatarURL string) error {
	_, err := c.do(ctx, http.MethodPut, "/api/me", httpapi.ProfileRequest{Username: username, AvatarURL: avatarURL}, nil)
	return err
}

func (c *Client) ReportPresence(ctx context.Context, online bool) error {
	_, err := c.do(ctx, http.MethodPost, "/api/presence", httpapi.PresenceRequest{IsOnline: &online}, nil)
	return err
}

func (c *Client) JoinQueue(ctx context.Context, creator domain.UserID) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	_, err := c.do(ctx, http.MethodPost, "/api/creators/"+url.PathEscape(string(creator))+"/queue", nil, &e)
	return e, err
}

func (c *Client) SetFanState(ctx context.Context, id domain.QueueEntryID, state domain.FanState) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	_, err := c.do(ctx, http.MethodPatch, "/api/queue/entries/"+url.PathEscape(string(id)), httpapi.FanStateRequest{FanState: state}, &e)
	return e, err
}

func (c *Client) Queue(ctx context.Context) ([]domain.QueueEntry, error) {
	var out httpapi.QueueResponse
	_, err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out)
	return out.Entries, err
}

func (c *Client) QueueCount(ctx context.Context) (int, error) {
	var out httpapi.CountResponse
	_, err := c.do(ctx, http.MethodGet, "/api/queue/count", nil, &out)
	return out.Count, err
}

// CreateSessionFromQueue calls the atomic creation RPC.
func (c *Client) CreateSessionFromQueue(ctx context.Context, entryID domain.QueueEntryID) (domain.SessionID, error) {
	var out httpapi.CreateSessionResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/sessions", httpapi.CreateSessionRequest{QueueEntryID: entryID}, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *Client) EndSession(ctx context.Context, id domain.SessionID) error {
	_, err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(string(id))+"/end", nil, nil)
	return err
}

func (c *Client) PendingInvite(ctx context.Context) (domain.SessionInvite, bool, error) {
	var out httpapi.InviteResponse
	found, err := c.do(ctx, http.MethodGet, "/api/invites/pending", nil, &out)
	if err != nil || !found {
		return domain.SessionInvite{}, false, err
	}
	return out.Invite, true, nil
}

func (c *Client) UpdateInviteStatus(ctx context.Context, id domain.InviteID, status domain.InviteStatus) error {
	_, err := c.do(ctx, http.MethodPatch, "/api/invites/"+url.PathEscape(string(id)), httpapi.InviteStatusRequest{Status: status}, nil)
	return err
}
