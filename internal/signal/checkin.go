package signal

import (
	"strings"

	"smart-progress/internal/model"
)

type section int

const (
	sectionNone section = iota
	sectionCompleted
	sectionPlanned
	sectionBlockers
)

var sectionLabels = []struct {
	label string
	sec   section
}{
	{"yesterday", sectionCompleted},
	{"done", sectionCompleted},
	{"昨日", sectionCompleted},
	{"完了", sectionCompleted},
	{"today", sectionPlanned},
	{"plan", sectionPlanned},
	{"予定", sectionPlanned},
	{"今日", sectionPlanned},
	{"blockers", sectionBlockers},
	{"blocker", sectionBlockers},
	{"ブロッカー", sectionBlockers},
	{"障害", sectionBlockers},
}

var emptyAnswers = map[string]struct{}{
	"none": {}, "n/a": {}, "na": {}, "nothing": {}, "-": {}, "なし": {}, "特になし": {}, "無し": {},
}

// ParseCheckin reads a check-in reply of the form
//
//	Yesterday: finished TICK-1
//	Today: start TICK-2
//	Blockers: none
//
// Section bodies may continue on following lines as bullets. ok is false when the
// text carries no recognised label.
func ParseCheckin(text string) (sum model.CheckinSummary, ok bool) {
	cur := sectionNone
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sec, rest, found := labelOf(line); found {
			cur = sec
			ok = true
			line = rest
		}
		item := trimBullet(line)
		if item == "" || cur == sectionNone {
			continue
		}
		if _, empty := emptyAnswers[strings.ToLower(item)]; empty {
			continue
		}
		switch cur {
		case sectionCompleted:
			sum.Completed = append(sum.Completed, item)
		case sectionPlanned:
			sum.Planned = append(sum.Planned, item)
		case sectionBlockers:
			sum.Blockers = append(sum.Blockers, item)
		}
	}
	return sum, ok
}

func labelOf(line string) (section, string, bool) {
	head, rest, found := cutColon(strings.Trim(line, "*_ "))
	if !found {
		return sectionNone, "", false
	}
	head = strings.ToLower(strings.Trim(head, "*_ •-"))
	for _, l := range sectionLabels {
		if head == l.label {
			return l.sec, strings.TrimSpace(strings.Trim(rest, "*_")), true
		}
	}
	return sectionNone, "", false
}

func cutColon(s string) (string, string, bool) {
	i := strings.IndexAny(s, ":：")
	if i < 0 {
		return s, "", false
	}
	sep := ":"
	if strings.HasPrefix(s[i:], "：") {
		sep = "："
	}
	return s[:i], s[i+len(sep):], true
}

func trimBullet(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range []string{"- ", "* ", "• ", "・", "•"} {
		if strings.HasPrefix(s, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}
