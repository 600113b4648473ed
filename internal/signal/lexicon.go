package signal

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"smart-progress/internal/model"
)

type lexiconEntry struct {
	category  model.Category
	sentiment model.Sentiment
	terms     []string
}

// Checked in this order; the first category with a hit wins.
var lexicon = []lexiconEntry{
	{model.CategoryBlocked, model.SentimentNegative, []string{
		"blocked", "blocker", "blocking", "stuck", "waiting on", "can't proceed", "cannot proceed", "ブロック", "障害",
	}},
	{model.CategoryDelayed, model.SentimentNegative, []string{
		"delayed", "delay", "behind schedule", "slipped", "postponed", "遅延", "遅れ",
	}},
	{model.CategoryCompleted, model.SentimentPositive, []string{
		"done", "finished", "completed", "merged", "shipped", "resolved", "fixed", "完了", "解決",
	}},
	{model.CategoryInProgress, model.SentimentNeutral, []string{
		"working on", "in progress", "wip", "started", "進めています", "作業中", "取り組んでいます",
	}},
}

type matcher struct {
	category  model.Category
	sentiment model.Sentiment
	ascii     *regexp.Regexp
	other     []string
}

var matchers = buildMatchers()

func buildMatchers() []matcher {
	out := make([]matcher, 0, len(lexicon))
	for _, e := range lexicon {
		m := matcher{category: e.category, sentiment: e.sentiment}
		var words []string
		for _, t := range e.terms {
			if isASCII(t) {
				words = append(words, regexp.QuoteMeta(t))
			} else {
				m.other = append(m.other, t)
			}
		}
		if len(words) > 0 {
			m.ascii = regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
		}
		out = append(out, m)
	}
	return out
}

// Heuristic classifies text from the keyword lexicon. ok is false when no term matched.
func Heuristic(text string) (c model.Category, s model.Sentiment, ok bool) {
	for _, m := range matchers {
		if m.ascii != nil && m.ascii.MatchString(text) {
			return m.category, m.sentiment, true
		}
		for _, t := range m.other {
			if strings.Contains(text, t) {
				return m.category, m.sentiment, true
			}
		}
	}
	return model.CategoryUnknown, model.SentimentNeutral, false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
