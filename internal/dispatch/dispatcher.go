// Package dispatch posts rendered reports to chat with bounded retries.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"smart-progress/internal/config"
	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/taskstate"
)

// Messenger is the chat side of delivery.
type Messenger interface {
	PostMessage(ctx context.Context, channel, text string) (ts string, err error)
	FormatMention(userID string) string
}

// Mentioner picks who to mention for an item owner; see identity.Resolver.Mention.
type Mentioner interface {
	Mention(ctx context.Context, space model.IdentitySpace, externalID, itemID string) (string, *model.IdentityGap, error)
}

// Delivery is one message to send. Exactly one of Daily, Weekly or Text is used,
// in that order.
type Delivery struct {
	Ref     string
	Channel string
	Daily   *model.DailyReport
	Weekly  *model.WeeklyReport
	Text    string
}

type Outcome struct {
	Delivered bool
	TS        string
	Attempts  []model.DeliveryAttempt
	Gaps      []model.IdentityGap
	Err       error
}

type Dispatcher struct {
	chat         Messenger
	mentions     Mentioner
	cfg          config.DeliveryConfig
	channel      string
	alertChannel string
	redact       *Redactor
	now          func() time.Time
}

func New(chat Messenger, mentions Mentioner, cfg config.DeliveryConfig, channel, alertChannel string, redact *Redactor) *Dispatcher {
	return &Dispatcher{
		chat:         chat,
		mentions:     mentions,
		cfg:          cfg,
		channel:      channel,
		alertChannel: alertChannel,
		redact:       redact,
		now:          time.Now,
	}
}

// Deliver renders d and posts it. The body is always sent: owners without a chat
// identity fall back to the configured lead or no mention, and each such case is
// returned in Outcome.Gaps. Transient failures are retried up to MaxRetries times.
func (d *Dispatcher) Deliver(ctx context.Context, dl Delivery) Outcome {
	var out Outcome
	text := dl.Text
	switch {
	case dl.Daily != nil:
		mention, gaps := d.mentionsFor(ctx, dl.Daily)
		out.Gaps = gaps
		text = report.RenderDaily(*dl.Daily, mention)
	case dl.Weekly != nil:
		text = report.RenderWeekly(*dl.Weekly)
	}
	channel := dl.Channel
	if channel == "" {
		channel = d.channel
	}

	out.TS, out.Attempts, out.Err = d.send(ctx, dl.Ref, channel, text)
	out.Delivered = out.Err == nil
	for _, g := range out.Gaps {
		logger.Warn("delivery.identity_gap", "report", dl.Ref, "item", g.ItemID, "space", g.Space, "external_id", g.ExternalID, "reason", g.Reason)
	}
	if !out.Delivered {
		logger.Error("delivery.failed", "report", dl.Ref, "attempts", len(out.Attempts), "kind", model.Kind(out.Err))
	}
	return out
}

// mentionsFor resolves owners of overdue items and items due within 24 hours of
// the start of the report day: every overdue and due-today item plus this-week
// items due tomorrow.
func (d *Dispatcher) mentionsFor(ctx context.Context, r *model.DailyReport) (report.MentionFunc, []model.IdentityGap) {
	byItem := map[string]string{}
	var gaps []model.IdentityGap
	var soon []model.ItemRef
	for _, it := range r.DueThisWeek {
		if dueSoon(r.Date, it) {
			soon = append(soon, it)
		}
	}
	for _, group := range [][]model.ItemRef{r.Overdue, r.DueToday, soon} {
		for _, it := range group {
			if _, done := byItem[it.ID]; done {
				continue
			}
			byItem[it.ID] = ""
			if d.mentions == nil {
				continue
			}
			who, gap, err := d.mentions.Mention(ctx, model.SpaceTracker, it.AssigneeID, it.ID)
			if err != nil {
				logger.Warn("delivery.mention_lookup_failed", "item", it.ID, "err", err)
				gaps = append(gaps, model.IdentityGap{Space: model.SpaceTracker, ExternalID: it.AssigneeID, ItemID: it.ID, Reason: "lookup failed"})
				continue
			}
			if gap != nil {
				gaps = append(gaps, *gap)
			}
			if who != "" {
				byItem[it.ID] = d.chat.FormatMention(who)
			}
		}
	}
	return func(it model.ItemRef) string { return byItem[it.ID] }, gaps
}

// dueSoon ranks it as of midnight of date. Due dates carry the report zone.
func dueSoon(date string, it model.ItemRef) bool {
	if it.DueDate == nil {
		return false
	}
	asOf, err := time.ParseInLocation(model.DateLayout, date, it.DueDate.Location())
	if err != nil {
		return false
	}
	item := model.TrackedItem{ID: it.ID, DueDate: it.DueDate, Status: it.Status}
	return taskstate.UrgencyOf(item, asOf) >= taskstate.UrgencyDueSoon
}

func (d *Dispatcher) send(ctx context.Context, ref, channel, text string) (string, []model.DeliveryAttempt, error) {
	var (
		ts       string
		attempts []model.DeliveryAttempt
	)
	op := func() error {
		var err error
		ts, err = d.chat.PostMessage(ctx, channel, text)
		a := model.DeliveryAttempt{ReportRef: ref, Attempt: len(attempts) + 1, Outcome: model.AttemptAccepted, At: d.now()}
		if err != nil {
			a.Err = d.redact.String(err.Error())
			a.Outcome = model.AttemptTransient
			if model.IsPermanent(err) {
				a.Outcome = model.AttemptPermanent
			}
		}
		attempts = append(attempts, a)
		logger.Info("delivery.attempt", "report", ref, "attempt", a.Attempt, "outcome", a.Outcome, "err", a.Err)
		if err != nil && model.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(d.policy(), ctx))
	if err != nil {
		var de *model.DeliveryError
		if !errors.As(err, &de) {
			err = model.TransientDelivery(err)
		}
		return "", attempts, fmt.Errorf("deliver %s: %w", ref, err)
	}
	return ts, attempts, nil
}

// policy is exponential backoff from BaseDelay doubling up to MaxDelay, with
// MaxRetries retries after the first attempt.
func (d *Dispatcher) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.Multiplier = 2
	b.RandomizationFactor = d.cfg.Jitter
	b.MaxInterval = d.cfg.MaxDelay
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(d.cfg.MaxRetries, 0)))
}

// Alert posts a short failure notice for job to the alert channel. Secrets are
// scrubbed from the error text.
func (d *Dispatcher) Alert(ctx context.Context, job string, jobErr error) error {
	msg := fmt.Sprintf(":x: Job *%s* failed (%s): %s", job, model.Kind(jobErr), d.redact.String(errText(jobErr)))
	if d.alertChannel == "" {
		logger.Error("alert.unrouted", "job", job, "message", msg)
		return nil
	}
	_, _, err := d.send(ctx, "alert:"+job, d.alertChannel, msg)
	return err
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	s := []rune(err.Error())
	if len(s) > 300 {
		return string(s[:297]) + "..."
	}
	return string(s)
}
