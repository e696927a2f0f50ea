// Package slackchannel posts notifications to a user's linked Slack channel
// through their OAuth integration.
package slackchannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
)

// refreshLeeway renews tokens slightly before their recorded expiry so a
// token does not die mid-request.
const refreshLeeway = time.Minute

// PosterOptions groups dependencies for Poster.
type PosterOptions struct {
	Integrations core.IntegrationRepository // Required: OAuth integration store
	Cipher       core.TokenCipher           // Required: token decryption
	Config       config.SlackConfig         // Client credentials for token refresh
	HTTPClient   *http.Client               // Optional: defaults to Config.RequestTimeout
	APIURL       string                     // Optional: overrides the Slack API base, for tests
	Logger       *slog.Logger               // Optional: structured logger
}

// Poster implements core.ChannelPoster on top of the Slack Web API. Delivery
// is best-effort: callers record failures but never retry them.
type Poster struct {
	integrations core.IntegrationRepository
	cipher       core.TokenCipher
	config       config.SlackConfig
	client       *http.Client
	apiURL       string
	logger       *slog.Logger
	clock        data.TimeProvider
}

var _ core.ChannelPoster = (*Poster)(nil)

// NewPoster constructs a new Poster.
func NewPoster(opts PosterOptions) (*Poster, error) {
	if opts.Integrations == nil {
		return nil, errors.New("IntegrationRepository is required")
	}
	if opts.Cipher == nil {
		return nil, errors.New("TokenCipher is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Config.RequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		integrations: opts.Integrations,
		cipher:       opts.Cipher,
		config:       opts.Config,
		client:       client,
		apiURL:       opts.APIURL,
		logger:       logger.With("component", "slack_poster"),
		clock:        &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (p *Poster) WithTimeProvider(tp data.TimeProvider) *Poster {
	p.clock = tp
	return p
}

// Post looks up the user's Slack integration, refreshing the token when it is
// near expiry, and posts the notification to the linked channel.
func (p *Poster) Post(ctx context.Context, userID string, n core.Notification) error {
	integ, err := p.integrations.GetByUserAndProvider(ctx, userID, model.ProviderSlack)
	if err != nil {
		return fmt.Errorf("load slack integration: %w", err)
	}
	if integ.ChannelID == "" {
		return errors.New("slack integration has no channel selected")
	}

	token, err := p.accessToken(ctx, integ)
	if err != nil {
		return err
	}

	api := p.newAPI(token)
	_, _, err = api.PostMessageContext(ctx, integ.ChannelID,
		slack.MsgOptionText(n.Message, false),
		slack.MsgOptionBlocks(buildBlocks(n)...),
	)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}

	p.logger.DebugContext(ctx, "slack notification posted",
		"user_id", userID,
		"channel_id", integ.ChannelID,
	)
	return nil
}

func (p *Poster) newAPI(token string) *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(p.client)}
	if p.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(p.apiURL))
	}
	return slack.New(token, opts...)
}

// accessToken decrypts the stored token and refreshes it through the OAuth
// flow when expiry is near. Refresh failures fall back to the stored token;
// Slack rejects it with a clearer error if it is truly dead.
func (p *Poster) accessToken(ctx context.Context, integ *model.OAuthIntegration) (string, error) {
	token, err := p.cipher.Decrypt(integ.EncryptedToken)
	if err != nil {
		return "", fmt.Errorf("decrypt slack token: %w", err)
	}

	if !p.needsRefresh(integ) {
		return token, nil
	}

	refreshed, err := p.refresh(ctx, integ)
	if err != nil {
		p.logger.WarnContext(ctx, "slack token refresh failed, using stored token",
			"integration_id", integ.ID,
			"error", err,
		)
		return token, nil
	}
	return refreshed, nil
}

func (p *Poster) needsRefresh(integ *model.OAuthIntegration) bool {
	if integ.TokenExpiry == nil || integ.EncryptedRefresh == nil {
		return false
	}
	if p.config.ClientID == "" || p.config.ClientSecret == "" {
		return false
	}
	return p.clock.Now().Add(refreshLeeway).After(*integ.TokenExpiry)
}

func (p *Poster) refresh(ctx context.Context, integ *model.OAuthIntegration) (string, error) {
	refreshToken, err := p.cipher.Decrypt(*integ.EncryptedRefresh)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     endpoints.Slack,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	fresh, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh slack token: %w", err)
	}

	if err := p.persistRefreshed(ctx, integ, fresh); err != nil {
		// The new token still works for this post even if persisting failed.
		p.logger.ErrorContext(ctx, "persist refreshed slack token failed",
			"integration_id", integ.ID,
			"error", err,
		)
	}
	return fresh.AccessToken, nil
}

func (p *Poster) persistRefreshed(ctx context.Context, integ *model.OAuthIntegration, fresh *oauth2.Token) error {
	encToken, err := p.cipher.Encrypt(fresh.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	params := core.UpdateIntegrationTokensParams{
		ID:             integ.ID,
		EncryptedToken: encToken,
	}
	if fresh.RefreshToken != "" {
		encRefresh, err := p.cipher.Encrypt(fresh.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		params.EncryptedRefresh = &encRefresh
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry.UTC()
		params.TokenExpiry = &expiry
	}
	return p.integrations.UpdateTokens(ctx, params)
}

// buildBlocks renders the notification as Block Kit: a header, the agent's
// message, the evidence, and a context line of source links.
func buildBlocks(n core.Notification) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, clipText(n.TaskName, 150), false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, clipText(n.Message, 3000), false, false),
			nil, nil,
		),
	}

	if n.Evidence != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, clipText("_"+n.Evidence+"_", 3000), false, false),
			nil, nil,
		))
	}

	if len(n.Sources) > 0 {
		links := make([]string, 0, len(n.Sources))
		for _, src := range n.Sources {
			links = append(links, "<"+src+">")
		}
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, clipText(strings.Join(links, "  |  "), 3000), false, false),
		))
	}
	return blocks
}

// clipText keeps block text inside Slack's per-block limits.
func clipText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
