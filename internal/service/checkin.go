package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/report"
	"smart-progress/internal/signal"
	"smart-progress/internal/store"
	"smart-progress/internal/taskstate"
)

const checkinPrompt = "*Daily check-in* :sunrise:\n" +
	"Reply in this thread with:\n" +
	"*Yesterday:* what you finished\n" +
	"*Today:* what you plan to do\n" +
	"*Blockers:* anything in your way (or none)"

// OpenCheckin posts the check-in prompt for date unless one is already open.
func (s *ReportService) OpenCheckin(ctx context.Context, date time.Time) (model.CheckinWindow, error) {
	key := taskstate.Day(date, s.opts.Location).Format(model.DateLayout)
	w, err := s.Store.Checkin(ctx, key)
	if err == nil {
		logger.Info("checkin.already_open", "date", key, "thread", w.ThreadTS)
		return w, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.CheckinWindow{}, err
	}

	var ts string
	err = fetchWithRetry(ctx, s.opts.ChatTimeout, func(ctx context.Context) (err error) {
		ts, err = s.Chat.PostMessage(ctx, s.opts.Channel, checkinPrompt)
		return err
	})
	if err != nil {
		return model.CheckinWindow{}, fmt.Errorf("checkin %s: post prompt: %w", key, err)
	}
	w, created, err := s.Store.OpenCheckin(ctx, model.CheckinWindow{
		Date:     key,
		Channel:  s.opts.Channel,
		ThreadTS: ts,
		OpenedAt: s.now(),
	})
	if err != nil {
		return model.CheckinWindow{}, err
	}
	if !created {
		logger.Warn("checkin.duplicate_prompt", "date", key, "kept", w.ThreadTS, "posted", ts)
	}
	logger.Info("checkin.opened", "date", key, "thread", w.ThreadTS)
	return w, nil
}

// CloseCheckin collects the replies to date's prompt, records them as signals and
// posts a summary in the thread. Without an open window it does nothing.
func (s *ReportService) CloseCheckin(ctx context.Context, date time.Time) ([]model.CheckinSummary, error) {
	day := taskstate.Day(date, s.opts.Location)
	key := day.Format(model.DateLayout)
	w, err := s.Store.Checkin(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("checkin.not_open", "date", key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	replies, err := s.fetchCheckinReplies(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("checkin %s: %w", key, err)
	}
	events := make([]model.RawEvent, 0, len(replies))
	var sums []model.CheckinSummary
	for _, r := range replies {
		events = append(events, r)
		if sum, ok := signal.ParseCheckin(r.Text); ok {
			sum.AuthorID, sum.AuthorName = r.UserID, r.UserName
			sums = append(sums, sum)
		}
	}
	if err := s.recordSignals(ctx, key, events); err != nil {
		return nil, fmt.Errorf("checkin %s: %w", key, err)
	}

	text := "No check-ins received today."
	if len(sums) > 0 {
		text = fmt.Sprintf("*Check-in summary* (%d replies)\n%s", len(sums), report.RenderCheckins(sums))
	}
	if _, err := s.Chat.PostReply(ctx, w.Channel, w.ThreadTS, text); err != nil {
		logger.Warn("checkin.summary_failed", "date", key, "err", err)
	}
	if err := s.Store.CloseCheckin(ctx, key, s.now()); err != nil {
		return sums, err
	}
	logger.Info("checkin.closed", "date", key, "replies", len(replies), "parsed", len(sums))
	return sums, nil
}
