package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"golang.org/x/oauth2"

	"github.com/tinyland-inc/carmine/pkg/bridge"
	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/commands"
	"github.com/tinyland-inc/carmine/pkg/logger"
	"github.com/tinyland-inc/carmine/pkg/relay"
	"github.com/tinyland-inc/carmine/pkg/store"
)

const (
	slackMaxBody      = 1 << 20
	oauthStateCookie  = "carmine_oauth_state"
	slackAuthorizeURL = "https://slack.com/oauth/v2/authorize"
	slackTokenURL     = "https://slack.com/api/oauth.v2.access"
)

// slackAPI is the subset of *slack.Client the bridge uses.
type slackAPI interface {
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// OAuthConfig enables the install flow when set.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectHost string
}

// oauthExchanger trades an authorization code for an installation.
type oauthExchanger func(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*slack.OAuthV2Response, error)

func slackExchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*slack.OAuthV2Response, error) {
	return slack.GetOAuthV2ResponseContext(ctx, http.DefaultClient, clientID, clientSecret, code, redirectURI)
}

// SlackChannel receives Slack Events API callbacks and slash commands over
// HTTP. Every signed route is verified with the app signing secret.
type SlackChannel struct {
	*BaseChannel
	api           slackAPI
	commands      *commands.Handler
	signingSecret string
	addr          string

	oauth    *oauth2.Config
	exchange oauthExchanger

	mux    *http.ServeMux
	server *http.Server
}

type SlackOption func(*SlackChannel)

// WithOAuth enables /auth/install and /auth/callback.
func WithOAuth(o OAuthConfig) SlackOption {
	return func(c *SlackChannel) {
		// Slack expects one comma-separated scope parameter.
		c.oauth = &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Scopes:       []string{strings.Join(o.Scopes, ",")},
			RedirectURL:  o.RedirectHost + "/auth/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  slackAuthorizeURL,
				TokenURL: slackTokenURL,
			},
		}
	}
}

// WithRoutes lets other packages mount handlers (health probes) on the
// same listener.
func WithRoutes(register func(*http.ServeMux)) SlackOption {
	return func(c *SlackChannel) { register(c.mux) }
}

func withExchanger(fn oauthExchanger) SlackOption {
	return func(c *SlackChannel) { c.exchange = fn }
}

// NewSlackChannel serves Slack callbacks on addr. Ingested events go to
// out (the queue toward Discord).
func NewSlackChannel(api slackAPI, signingSecret, teamID, addr string, out *bus.Queue, cmds *commands.Handler, opts ...SlackOption) *SlackChannel {
	c := &SlackChannel{
		BaseChannel:   NewBaseChannel("slack", out, WithWorkspaceID(teamID)),
		api:           api,
		commands:      cmds,
		signingSecret: signingSecret,
		addr:          addr,
		exchange:      slackExchange,
		mux:           http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.routes()
	return c
}

// API exposes the Web API client for the Slack deliverer.
func (c *SlackChannel) API() slackAPI { return c.api }

func (c *SlackChannel) Handler() http.Handler { return c.mux }

func (c *SlackChannel) routes() {
	c.mux.Handle("POST /push", c.verified(http.HandlerFunc(c.handlePush)))
	c.mux.Handle("POST /command", c.verified(http.HandlerFunc(c.handleCommand)))
	c.mux.Handle("POST /interaction", c.verified(http.HandlerFunc(c.handleInteraction)))

	c.mux.HandleFunc("GET /auth/install", c.handleInstall)
	c.mux.HandleFunc("GET /auth/callback", c.handleCallback)
	c.mux.HandleFunc("GET /installed", staticPage("Welcome"))
	c.mux.HandleFunc("GET /cancelled", staticPage("Cancelled"))
	c.mux.HandleFunc("GET /error", staticPage("Error while installing"))
}

func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack listener")

	if resp, err := c.api.AuthTestContext(ctx); err != nil {
		logger.WarnCF("slack", "Slack auth test failed", map[string]any{"error": err.Error()})
	} else {
		logger.InfoCF("slack", "Slack bot connected", map[string]any{
			"bot_user_id": resp.UserID,
			"team":        resp.Team,
		})
	}

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.addr, err)
	}
	c.server = &http.Server{
		Handler:           c.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.SetRunning(true)
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("slack", "HTTP server stopped", map[string]any{"error": err.Error()})
		}
		c.SetRunning(false)
	}()
	logger.InfoCF("slack", "Listening for Slack callbacks", map[string]any{"addr": ln.Addr().String()})
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack listener")
	c.SetRunning(false)
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// verified rejects requests whose Slack signature does not match. The body
// is restored for the wrapped handler.
func (c *SlackChannel) verified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, slackMaxBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sv, err := slack.NewSecretsVerifier(r.Header, c.signingSecret)
		if err == nil {
			_, _ = sv.Write(body)
			err = sv.Ensure()
		}
		if err != nil {
			logger.WarnCF("slack", "Rejected unsigned request", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

type pushEnvelope struct {
	Type string `json:"type"`
}

func (c *SlackChannel) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch env.Type {
	case string(slackevents.URLVerification):
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(ch.Challenge))
		return

	case string(slackevents.CallbackEvent):
		var cb slackevents.EventsAPICallbackEvent
		if err := json.Unmarshal(body, &cb); err != nil || cb.InnerEvent == nil {
			logger.WarnCF("slack", "Malformed event callback", map[string]any{"error": fmt.Sprint(err)})
			w.WriteHeader(http.StatusOK)
			return
		}
		var msg slackMessageEvent
		if err := json.Unmarshal(*cb.InnerEvent, &msg); err != nil {
			logger.WarnCF("slack", "Malformed inner event", map[string]any{"error": err.Error()})
			w.WriteHeader(http.StatusOK)
			return
		}
		if msg.Type != "message" {
			break
		}
		// A timed-out delivery was already queued before Slack gave up on
		// the ack, so its retry would relay the message twice.
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" && r.Header.Get("X-Slack-Retry-Reason") == "http_timeout" {
			logger.InfoCF("slack", "Skipping redelivered event", map[string]any{
				"event_id":    cb.EventID,
				"channel_id":  msg.Channel,
				"retry_num":   retry,
				"retry_cause": "http_timeout",
			})
			break
		}
		c.ingest(r.Context(), cb.TeamID, msg)
	}
	w.WriteHeader(http.StatusOK)
}

// ingest translates and publishes synchronously. The callback is only
// acknowledged once the event is queued, which keeps per-channel order.
func (c *SlackChannel) ingest(ctx context.Context, teamID string, msg slackMessageEvent) {
	kind, err := classifySlackMessage(msg)
	if err != nil {
		c.reportTranslation(err, map[string]any{
			"channel_id": msg.Channel,
			"subtype":    msg.SubType,
		})
		return
	}

	var typ bridge.EventType
	var userID string
	switch kind {
	case slackMessageSent:
		typ = bridge.MessageSent{MessageID: msg.TS, Content: orPlaceholder(msg.Text)}
		userID = msg.User
	case slackMessageChanged:
		typ = bridge.MessageEdited{MessageID: msg.Message.TS, NewContent: orPlaceholder(msg.Message.Text)}
		userID = msg.Message.User
	case slackMessageDeleted:
		typ = bridge.MessageDeleted{MessageID: msg.DeletedTS}
	default:
		logger.InfoCF("slack", "Ignoring message event", map[string]any{
			"channel_id": msg.Channel,
			"subtype":    msg.SubType,
			"reason":     kind.String(),
		})
		return
	}

	author := bridge.UnknownAuthor()
	if userID != "" {
		author = c.resolveAuthor(ctx, userID)
	}
	c.Publish(ctx, bridge.NewEvent(author, msg.Channel, c.workspaceFor(teamID), typ))
}

// resolveAuthor looks up a user's display name and avatar. Failure never
// blocks the relay.
func (c *SlackChannel) resolveAuthor(ctx context.Context, userID string) bridge.Author {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil || u == nil {
		logger.DebugCF("slack", "User lookup failed", map[string]any{
			"user_id": userID,
			"error":   fmt.Sprint(err),
		})
		return bridge.UnknownAuthor()
	}
	author := bridge.Author{Name: u.Profile.DisplayName}
	if author.Name == "" {
		author.Name = u.Profile.RealName
	}
	if author.Name == "" {
		author.Name = u.RealName
	}
	if author.Name == "" {
		author.Name = bridge.UnknownAuthorName
	}
	author.AvatarURL = u.Profile.ImageOriginal
	if author.AvatarURL == "" {
		author.AvatarURL = u.Profile.Image512
	}
	return author
}

type commandResponse struct {
	Text string `json:"text"`
}

func (c *SlackChannel) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply := c.commands.HandleSlash(r.Context(), cmd)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandResponse{Text: reply})
}

func (c *SlackChannel) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var cb slack.InteractionCallback
	if payload := formValue(r, "payload"); payload != "" {
		if err := json.Unmarshal([]byte(payload), &cb); err != nil {
			logger.WarnCF("slack", "Malformed interaction payload", map[string]any{"error": err.Error()})
		}
	}
	logger.InfoCF("slack", "Interaction received", map[string]any{
		"type":    string(cb.Type),
		"user_id": cb.User.ID,
	})
	w.WriteHeader(http.StatusOK)
}

func formValue(r *http.Request, key string) string {
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostForm.Get(key)
}

func (c *SlackChannel) handleInstall(w http.ResponseWriter, r *http.Request) {
	if c.oauth == nil {
		http.NotFound(w, r)
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, c.oauth.AuthCodeURL(state), http.StatusFound)
}

func (c *SlackChannel) handleCallback(w http.ResponseWriter, r *http.Request) {
	if c.oauth == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if q.Get("error") != "" {
		logger.InfoCF("slack", "Install cancelled", map[string]any{"reason": q.Get("error")})
		http.Redirect(w, r, "/cancelled", http.StatusFound)
		return
	}
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		logger.WarnC("slack", "Install callback with invalid state")
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}

	resp, err := c.exchange(r.Context(), c.oauth.ClientID, c.oauth.ClientSecret, code, c.oauth.RedirectURL)
	if err != nil {
		logger.ErrorCF("slack", "OAuth exchange failed", map[string]any{"error": err.Error()})
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}
	logger.InfoCF("slack", "App installed", map[string]any{
		"team_id":     resp.Team.ID,
		"team":        resp.Team.Name,
		"bot_user_id": resp.BotUserID,
		"scope":       resp.Scope,
	})
	http.Redirect(w, r, "/installed", http.StatusFound)
}

func staticPage(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return bridge.MissingContentPlaceholder
	}
	return s
}

// slackMembership is the relay identity on Slack: the bot must be a member
// of the channel to post there.
type slackMembership struct {
	api slackAPI
}

func (b slackMembership) Find(ctx context.Context, channelID, _ string) (string, bool, error) {
	info, err := b.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", false, err
	}
	return channelID, info.IsMember, nil
}

func (b slackMembership) Create(ctx context.Context, channelID, _ string) (string, error) {
	if _, _, _, err := b.api.JoinConversationContext(ctx, channelID); err != nil {
		return "", err
	}
	return channelID, nil
}

// SlackDeliverer posts relayed messages as the bot with the original
// author's name and avatar.
type SlackDeliverer struct {
	api     slackAPI
	members *relay.Manager[string]
}

func NewSlackDeliverer(api slackAPI) *SlackDeliverer {
	return &SlackDeliverer{
		api:     api,
		members: relay.NewManager[string](relay.DefaultName, slackMembership{api: api}),
	}
}

func (d *SlackDeliverer) Send(ctx context.Context, channelID string, author bridge.Author, content string) (string, error) {
	if _, err := d.members.Get(ctx, channelID); err != nil {
		return "", err
	}
	opts := []slack.MsgOption{
		slack.MsgOptionText(content, false),
		slack.MsgOptionUsername(author.Name),
	}
	if author.AvatarURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(author.AvatarURL))
	}
	_, ts, err := d.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		d.evictIfRemoved(channelID, err)
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return ts, nil
}

func (d *SlackDeliverer) Edit(ctx context.Context, ref store.MessageRef, content string) error {
	if _, _, _, err := d.api.UpdateMessageContext(ctx, ref.ChannelID, ref.MessageID,
		slack.MsgOptionText(content, false)); err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

func (d *SlackDeliverer) Delete(ctx context.Context, ref store.MessageRef) error {
	if _, _, err := d.api.DeleteMessageContext(ctx, ref.ChannelID, ref.MessageID); err != nil {
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

func (d *SlackDeliverer) evictIfRemoved(channelID string, err error) {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) && apiErr.Err == "not_in_channel" {
		logger.WarnCF("slack", "Bot was removed from channel, evicting", map[string]any{"channel_id": channelID})
		d.members.Forget(channelID)
	}
}
