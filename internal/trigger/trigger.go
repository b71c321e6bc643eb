// Package trigger routes free-form chat messages to tool types by
// keyword and phrase matching. Matching is substring-based over the
// lowercased message; it is deliberately permissive, the tool's own
// command analysis does the precise parsing.
package trigger

import "strings"

// Tool types the detector can route to.
const (
	ToolTwitter = "twitter"
	ToolIntents = "intents"
)

// Operation kinds for twitter messages.
const (
	KindScheduleTweets = "schedule_tweets"
	KindSendTweet      = "send_tweet"
)

type pattern struct {
	keywords []string
	phrases  []string
}

func (p pattern) matches(message string) bool {
	for _, keyword := range p.keywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	for _, phrase := range p.phrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

var twitterGeneral = pattern{
	keywords: []string{"tweet", "twitter", "@", "post"},
	phrases: []string{
		"post on twitter", "post on x", "send a tweet", "create a tweet",
		"make a tweet", "write a tweet", "compose a tweet", "publish a tweet",
		"write a thread",
	},
}

var twitterSchedule = pattern{
	keywords: []string{
		"schedule", "plan", "series", "multiple", "timed", "batch",
		"queue", "later", "upcoming", "future", "tomorrow", "next",
	},
	phrases: []string{
		"schedule tweets", "schedule a tweet", "plan tweets", "tweet series",
		"queue tweets", "queue up", "line up", "prepare tweets", "post later",
		"schedule for later", "set up tweets", "automate tweets", "batch tweets",
	},
}

var twitterImmediate = pattern{
	keywords: []string{"tweet now", "post now", "send tweet", "create tweet", "publish now", "thread"},
	phrases: []string{
		"tweet this", "post this", "send this tweet", "create a tweet",
		"make a tweet", "write a tweet thread", "create a thread", "start a thread",
	},
}

var intentsPattern = pattern{
	keywords: []string{
		"near", "usdc", "swap", "deposit", "withdraw", "token",
		"limit order", "crypto", "defi", "wallet",
	},
	phrases: []string{
		"swap tokens", "place a limit order", "set a limit order",
		"check my balance", "bridge tokens",
	},
}

// Detect returns the tool type a message should route to. Twitter
// patterns are checked first, matching the original precedence.
func Detect(message string) (string, bool) {
	message = strings.ToLower(message)
	if twitterGeneral.matches(message) || twitterSchedule.matches(message) || twitterImmediate.matches(message) {
		return ToolTwitter, true
	}
	if intentsPattern.matches(message) {
		return ToolIntents, true
	}
	return "", false
}

// OperationKind discriminates scheduled from immediate twitter requests.
// It returns "" for messages that are not twitter-related at all.
func OperationKind(message string) string {
	lowered := strings.ToLower(message)
	tool, ok := Detect(lowered)
	if !ok || tool != ToolTwitter {
		return ""
	}
	if twitterSchedule.matches(lowered) {
		return KindScheduleTweets
	}
	return KindSendTweet
}
