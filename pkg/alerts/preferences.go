package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
)

// DefaultLinkTokenTTL is how long a Telegram connect link stays usable.
const DefaultLinkTokenTTL = 10 * time.Minute

var (
	// ErrInvalidPreference is returned for an unknown filter or missing recipient.
	ErrInvalidPreference = errors.New("invalid notification preference")

	// ErrLinkExpired is returned when a connect token is used after its expiry.
	ErrLinkExpired = errors.New("link token expired")
)

// PreferenceView is the public shape of a recipient's channel preference.
type PreferenceView struct {
	RecipientID string           `json:"recipientId"`
	Channel     string           `json:"channel"`
	Enabled     bool             `json:"enabled"`
	Filter      model.TierFilter `json:"filter"`
	Connected   bool             `json:"connected"`
}

// PreferenceUpdate carries the fields a recipient may change. Nil fields
// are left as they are.
type PreferenceUpdate struct {
	Enabled *bool            `json:"enabled,omitempty"`
	Filter  model.TierFilter `json:"filter,omitempty"`
	Address *string          `json:"address,omitempty"`
}

// Preferences manages notification preferences and channel linking.
type Preferences struct {
	repo    storage.PreferenceRepository
	linkTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewPreferences creates a preference service.
func NewPreferences(repo storage.PreferenceRepository, logger *slog.Logger) *Preferences {
	return &Preferences{
		repo:    repo,
		linkTTL: DefaultLinkTokenTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for link token expiry.
func (p *Preferences) WithClock(now func() time.Time) *Preferences {
	p.now = now
	return p
}

// Get returns the preference for a recipient on a channel. A recipient
// without a stored preference gets the default URGENT_ONLY view.
func (p *Preferences) Get(ctx context.Context, recipientID, channel string) (PreferenceView, error) {
	pref, err := p.load(ctx, recipientID, channel)
	if err != nil {
		return PreferenceView{}, err
	}
	return viewOf(pref), nil
}

// Set applies an update. OFF is stored as enabled=false with the previous
// filter kept, so switching back on restores it.
func (p *Preferences) Set(ctx context.Context, recipientID, channel string, upd PreferenceUpdate) (PreferenceView, error) {
	pref, err := p.load(ctx, recipientID, channel)
	if err != nil {
		return PreferenceView{}, err
	}

	if upd.Filter != "" {
		filter := model.TierFilter(strings.ToUpper(strings.TrimSpace(string(upd.Filter))))
		if !filter.Valid() {
			return PreferenceView{}, fmt.Errorf("filter %q: %w", upd.Filter, ErrInvalidPreference)
		}
		if filter == model.FilterOff {
			pref.Enabled = false
		} else {
			pref.Filter = filter
			pref.Enabled = true
		}
	}
	if upd.Enabled != nil {
		pref.Enabled = *upd.Enabled
	}
	if upd.Address != nil {
		pref.ChannelAddress = strings.TrimSpace(*upd.Address)
	}

	if err := p.repo.SavePreference(ctx, pref); err != nil {
		return PreferenceView{}, err
	}
	p.logger.Info("preference updated",
		"recipient_id", recipientID,
		"channel", channel,
		"enabled", pref.Enabled,
		"filter", pref.Filter,
	)
	return viewOf(pref), nil
}

// IssueLinkToken stores a one-time Telegram connect token for the recipient.
func (p *Preferences) IssueLinkToken(ctx context.Context, recipientID string) (string, time.Time, error) {
	pref, err := p.load(ctx, recipientID, telegramChannelName)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := p.now().Add(p.linkTTL).UTC()
	pref.LinkToken = uuid.NewString()
	pref.LinkTokenExpires = &expires
	if err := p.repo.SavePreference(ctx, pref); err != nil {
		return "", time.Time{}, err
	}
	return pref.LinkToken, expires, nil
}

// Bond connects the chat to the recipient holding token and consumes the token.
func (p *Preferences) Bond(ctx context.Context, token, chatID string) (*model.NotificationPreference, error) {
	pref, err := p.repo.FindPreferenceByLinkToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if pref.LinkTokenExpires != nil && p.now().After(*pref.LinkTokenExpires) {
		return nil, ErrLinkExpired
	}
	pref.ChannelAddress = chatID
	pref.LinkToken = ""
	pref.LinkTokenExpires = nil
	if err := p.repo.SavePreference(ctx, pref); err != nil {
		return nil, err
	}
	p.logger.Info("channel connected", "recipient_id", pref.RecipientID, "channel", pref.Channel)
	return pref, nil
}

// ByAddress finds the preference connected to address on channel.
func (p *Preferences) ByAddress(ctx context.Context, channel, address string) (*model.NotificationPreference, error) {
	prefs, err := p.repo.ListPreferences(ctx)
	if err != nil {
		return nil, err
	}
	for i := range prefs {
		if prefs[i].Channel == channel && prefs[i].ChannelAddress == address {
			return &prefs[i], nil
		}
	}
	return nil, fmt.Errorf("%s address %s: %w", channel, address, storage.ErrNotFound)
}

// Disconnect clears the channel address of the preference connected to address.
func (p *Preferences) Disconnect(ctx context.Context, channel, address string) (*model.NotificationPreference, error) {
	pref, err := p.ByAddress(ctx, channel, address)
	if err != nil {
		return nil, err
	}
	pref.ChannelAddress = ""
	if err := p.repo.SavePreference(ctx, pref); err != nil {
		return nil, err
	}
	p.logger.Info("channel disconnected", "recipient_id", pref.RecipientID, "channel", channel)
	return pref, nil
}

func (p *Preferences) load(ctx context.Context, recipientID, channel string) (*model.NotificationPreference, error) {
	recipientID = strings.TrimSpace(recipientID)
	channel = strings.TrimSpace(channel)
	if recipientID == "" || channel == "" {
		return nil, fmt.Errorf("missing recipient or channel: %w", ErrInvalidPreference)
	}
	pref, err := p.repo.GetPreference(ctx, recipientID, channel)
	if errors.Is(err, storage.ErrNotFound) {
		return &model.NotificationPreference{
			RecipientID: recipientID,
			Channel:     channel,
			Enabled:     true,
			Filter:      model.FilterUrgentOnly,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return pref, nil
}

func viewOf(pref *model.NotificationPreference) PreferenceView {
	return PreferenceView{
		RecipientID: pref.RecipientID,
		Channel:     pref.Channel,
		Enabled:     pref.Enabled,
		Filter:      pref.EffectiveFilter(),
		Connected:   pref.Connected(),
	}
}
