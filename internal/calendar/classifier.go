package calendar

import (
	"fmt"
	"regexp"
	"strings"
)

// sequenceKeywords mark an utterance as multi-event on sight. The separator
// entries, the bare space in particular, make almost any multi-word sentence
// match.
var sequenceKeywords = func() []string {
	words := []string{
		"然後", "接著", "之後", "另外", "還有", "以及", "再來", "隨後",
		"第一", "第二", "第三", "首先", "其次", "最後",
		"，", "、", "；", ",", ";", " ", "\n",
	}
	for hour := 9; hour <= 20; hour++ {
		words = append(words, fmt.Sprintf("%d點", hour))
	}
	return words
}()

// dayPartWords count as time tokens rather than triggering on their own, so a
// single "下午三點到五點" range stays a single event.
var dayPartWords = []string{
	"早上", "上午", "中午", "下午", "晚上", "傍晚", "深夜",
}

var englishDayParts = regexp.MustCompile(`\b(morning|noon|afternoon|evening)\b`)

var englishSequenceWords = regexp.MustCompile(`\b(then|next|after|also|and|first|second|finally)\b`)

var timeTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}[:：]\d{2}`),
	regexp.MustCompile(`\d{1,2}點\d{1,2}分`),
	regexp.MustCompile(`\d{1,2}點`),
}

// Classifier decides whether free text describes more than one event.
type Classifier struct{}

// HasMultipleEvents reports true when text contains a sequencing keyword or
// separator, or at least two time tokens.
func (Classifier) HasMultipleEvents(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range sequenceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if englishSequenceWords.MatchString(lower) {
		return true
	}
	return countTimeTokens(lower) >= 2
}

func countTimeTokens(text string) int {
	count := 0
	for _, re := range timeTokenPatterns {
		count += len(re.FindAllStringIndex(text, -1))
	}
	for _, word := range dayPartWords {
		count += strings.Count(text, word)
	}
	count += len(englishDayParts.FindAllStringIndex(text, -1))
	return count
}
