// Package notification fans a message out over the configured channels.
// Delivery is best effort per channel; one failing channel never blocks
// the others.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/smallbiznis/charla/internal/providers/email"
	"github.com/smallbiznis/charla/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
)

var ErrUnknownChannel = errors.New("unknown_notification_channel")

type Notification struct {
	Channels   []string
	Subject    string
	Body       string
	Recipients []string // email only; defaults to the org support address
}

type DispatcherParam struct {
	fx.In

	Log    *zap.Logger
	Email  email.Provider
	Slack  slack.Provider
	OrgSvc orgdomain.Service
}

type Dispatcher struct {
	log    *zap.Logger
	email  email.Provider
	slack  slack.Provider
	orgSvc orgdomain.Service
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	return &Dispatcher{
		log:    p.Log.Named("notification.dispatcher"),
		email:  p.Email,
		slack:  p.Slack,
		orgSvc: p.OrgSvc,
	}
}

// Dispatch sends over every requested channel and returns the joined
// per-channel errors, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID snowflake.ID, n Notification) error {
	var errs []error
	for _, channel := range n.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case ChannelEmail:
			if err := d.sendEmail(ctx, orgID, n); err != nil {
				errs = append(errs, fmt.Errorf("email: %w", err))
			}
		case ChannelSlack:
			if err := d.slack.PostMessage(ctx, n.Subject+"\n"+n.Body); err != nil {
				errs = append(errs, fmt.Errorf("slack: %w", err))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownChannel, channel))
		}
	}
	if len(errs) > 0 {
		d.log.Warn("notification dispatch incomplete",
			zap.String("org_id", orgID.String()),
			zap.Int("failed_channels", len(errs)),
		)
	}
	return errors.Join(errs...)
}

// NotifyLowBalance implements wallet's LowBalanceNotifier.
func (d *Dispatcher) NotifyLowBalance(ctx context.Context, orgID snowflake.ID, balanceMicros, thresholdMicros int64) {
	subject := "AI balance running low"
	body := fmt.Sprintf("Prepaid balance is %.6f, below the configured threshold of %.6f. Top up to keep automations running.",
		float64(balanceMicros)/1e6, float64(thresholdMicros)/1e6)
	if err := d.Dispatch(ctx, orgID, Notification{
		Channels: []string{ChannelEmail, ChannelSlack},
		Subject:  subject,
		Body:     body,
	}); err != nil {
		d.log.Warn("low balance notification failed", zap.Error(err))
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, orgID snowflake.ID, n Notification) error {
	recipients := n.Recipients
	if len(recipients) == 0 {
		org, err := d.orgSvc.Get(ctx, orgID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(org.SupportEmail) == "" {
			return errors.New("no email recipients")
		}
		recipients = []string{org.SupportEmail}
	}
	return d.email.Send(ctx, recipients, n.Subject, n.Body)
}
