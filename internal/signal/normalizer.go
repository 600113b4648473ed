// Package signal turns raw chat, check-in and commit events into classified
// progress signals.
package signal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"smart-progress/internal/logger"
	"smart-progress/internal/model"
	"smart-progress/internal/reference"
)

// Classification is what a Classifier reports for one text.
type Classification struct {
	Category  model.Category
	Sentiment model.Sentiment
	Summary   string
}

// Classifier is the optional model-backed tier. Any error sends the text to the lexicon.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// AuthorResolver looks up the identity behind an external author id.
type AuthorResolver interface {
	Resolve(ctx context.Context, space model.IdentitySpace, externalID string) (model.Identity, error)
}

type Normalizer struct {
	refs       []*regexp.Regexp
	authors    AuthorResolver
	classifier Classifier
	timeout    time.Duration
}

// NewNormalizer wires the pipeline. classifier may be nil.
func NewNormalizer(refs []*regexp.Regexp, authors AuthorResolver, classifier Classifier, timeout time.Duration) *Normalizer {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Normalizer{refs: refs, authors: authors, classifier: classifier, timeout: timeout}
}

// Normalize builds the signal for ev. It fails only with model.ErrMalformedRecord;
// author and classifier problems degrade the signal instead. ReportDate is left for
// the caller, which owns the time window.
func (n *Normalizer) Normalize(ctx context.Context, ev model.RawEvent) (model.ProgressSignal, error) {
	var (
		sig      model.ProgressSignal
		classify string
		authorID string
		name     string
	)
	switch e := ev.(type) {
	case model.ChatMessage:
		if e.UserID == "" || e.TS == "" || strings.TrimSpace(e.Text) == "" {
			return sig, fmt.Errorf("chat %s/%s: %w", e.Channel, e.TS, model.ErrMalformedRecord)
		}
		sig = model.ProgressSignal{SourceRef: e.Channel + ":" + e.TS, RawText: e.Text, OccurredAt: e.Time}
		classify, authorID, name = e.Text, e.UserID, e.UserName
	case model.CheckinReply:
		if e.UserID == "" || e.TS == "" || strings.TrimSpace(e.Text) == "" {
			return sig, fmt.Errorf("checkin %s/%s: %w", e.Channel, e.TS, model.ErrMalformedRecord)
		}
		sig = model.ProgressSignal{SourceRef: e.Channel + ":" + e.TS, RawText: e.Text, OccurredAt: e.Time}
		authorID, name = e.UserID, e.UserName
		classify = e.Text
		if sum, ok := ParseCheckin(e.Text); ok {
			sig.Summary = CheckinLine(sum)
			if len(sum.Blockers) > 0 {
				sig.Category, sig.Sentiment, sig.Outcome = model.CategoryBlocked, model.SentimentNegative, model.OutcomeHeuristic
			}
			classify = strings.Join(append(append([]string{}, sum.Completed...), sum.Planned...), "\n")
		}
	case model.Commit:
		if e.SHA == "" || strings.TrimSpace(e.Message) == "" {
			return sig, fmt.Errorf("commit %s@%s: %w", e.Repo, e.SHA, model.ErrMalformedRecord)
		}
		sig = model.ProgressSignal{SourceRef: e.Repo + "@" + e.SHA, RawText: e.Message, OccurredAt: e.Time}
		classify, authorID, name = e.Message, e.Author, e.Author
	default:
		return sig, fmt.Errorf("unsupported event %T: %w", ev, model.ErrMalformedRecord)
	}
	sig.SourceKind = ev.Kind()
	sig.ReferencedItemIDs = reference.Extract(sig.RawText, n.refs)

	n.attachAuthor(ctx, &sig, ev.Kind().IdentitySpace(), authorID, name)
	if sig.Outcome == "" {
		n.classify(ctx, &sig, classify)
	}
	return sig, nil
}

func (n *Normalizer) attachAuthor(ctx context.Context, sig *model.ProgressSignal, space model.IdentitySpace, externalID, name string) {
	sig.AuthorExternalID = externalID
	sig.AuthorName = name
	if externalID != "" && n.authors != nil {
		ident, err := n.authors.Resolve(ctx, space, externalID)
		switch {
		case err == nil:
			id := ident.ID
			sig.AuthorIdentityID = &id
			sig.AuthorName = ident.DisplayName
		case errors.Is(err, model.ErrIdentityGap):
		default:
			logger.Warn("signal author lookup failed", "space", space, "external_id", externalID, "err", err)
		}
	}
	if sig.AuthorName == "" {
		sig.AuthorName = model.AnonymousAuthor
	}
}

func (n *Normalizer) classify(ctx context.Context, sig *model.ProgressSignal, text string) {
	if n.classifier != nil && strings.TrimSpace(text) != "" {
		cctx, cancel := context.WithTimeout(ctx, n.timeout)
		c, err := n.classifier.Classify(cctx, text)
		cancel()
		if err == nil && c.Category.Valid() && c.Category != model.CategoryUnknown {
			if !c.Sentiment.Valid() {
				c.Sentiment = model.SentimentNeutral
			}
			sig.Category, sig.Sentiment, sig.Outcome = c.Category, c.Sentiment, model.OutcomeClassified
			if sig.Summary == "" {
				sig.Summary = c.Summary
			}
			return
		}
		if err != nil {
			logger.Debug("classifier fallback", "source_ref", sig.SourceRef, "err", err)
		}
	}
	if c, s, ok := Heuristic(text); ok {
		sig.Category, sig.Sentiment, sig.Outcome = c, s, model.OutcomeHeuristic
		return
	}
	sig.Category, sig.Sentiment, sig.Outcome = model.CategoryUnknown, model.SentimentNeutral, model.OutcomeUnknown
}

// CheckinLine renders a parsed check-in on one line for signal summaries.
func CheckinLine(sum model.CheckinSummary) string {
	var parts []string
	if len(sum.Completed) > 0 {
		parts = append(parts, "done: "+strings.Join(sum.Completed, "; "))
	}
	if len(sum.Planned) > 0 {
		parts = append(parts, "plan: "+strings.Join(sum.Planned, "; "))
	}
	if len(sum.Blockers) > 0 {
		parts = append(parts, "blockers: "+strings.Join(sum.Blockers, "; "))
	}
	return strings.Join(parts, " | ")
}
