// Package parse turns the text of a chat message into a Command.
package parse

import (
	"strings"

	"statusbridge/tools/errs"
)

type Kind int

const (
	Help Kind = iota
	Register
	Status
	Clear
	Show
	Feedback
)

func (k Kind) String() string {
	switch k {
	case Register:
		return "register"
	case Status:
		return "status"
	case Clear:
		return "clear"
	case Show:
		return "show"
	case Feedback:
		return "feedback"
	default:
		return "help"
	}
}

// Command is one recognized chat command.
type Command struct {
	Kind Kind
	// Arg is the presence id for Register and the message for Feedback.
	Arg    string
	Status StatusRequest
}

// StatusRequest is the body of a status command. Expiry is nil when the
// status should not expire.
type StatusRequest struct {
	Text   string
	Emoji  string
	Expiry *TimeSpec
}

var aliases = map[string]Kind{
	"register": Register,
	"status":   Status,
	"set":      Status,
	"clear":    Clear,
	"unset":    Clear,
	"show":     Show,
	"get":      Show,
	"feedback": Feedback,
	"help":     Help,
}

// Parse reads a message addressed to the bot. Unknown commands parse as
// Help. The error, if any, is an InvalidTimeSpec or InvalidStatus code
// error describing what was wrong with a status command.
func Parse(text string) (Command, error) {
	text = strings.TrimSpace(stripMention(text))
	word, rest := splitFirst(text)
	kind, ok := aliases[strings.ToLower(word)]
	if !ok {
		return Command{Kind: Help}, nil
	}
	cmd := Command{Kind: kind}
	switch kind {
	case Register:
		cmd.Arg, _ = splitFirst(rest)
	case Feedback:
		cmd.Arg = rest
	case Status:
		req, err := ParseStatus(rest)
		if err != nil {
			return cmd, err
		}
		cmd.Status = req
	}
	return cmd, nil
}

// ParseStatus reads the arguments of a status command in either form:
//
//	"<text>" [emoji] [expiry]
//	[emoji] <text...> [expiry]
func ParseStatus(args string) (StatusRequest, error) {
	args = strings.TrimSpace(args)
	if open, size := quoteAt(args); open != "" {
		return parseQuoted(args[size:], open)
	}
	return parseBare(args)
}

func parseQuoted(body, open string) (StatusRequest, error) {
	closing := `"`
	if open == "“" {
		closing = "”"
	}
	end := strings.Index(body, closing)
	if end < 0 {
		return StatusRequest{}, errs.ErrInvalidStatus.WrapMsg("unterminated quote")
	}
	req := StatusRequest{Text: strings.TrimSpace(body[:end])}
	tail := strings.Fields(body[end+len(closing):])

	if len(tail) > 0 && IsEmoji(tail[0]) {
		req.Emoji, tail = tail[0], tail[1:]
	} else if len(tail) > 0 && IsShortcode(tail[0]) {
		return req, shortcodeError(tail[0])
	}
	if len(tail) == 0 {
		return req, nil
	}
	spec, err := parseExpiryTokens(tail)
	if err != nil {
		return req, err
	}
	req.Expiry = &spec
	return req, nil
}

func parseBare(args string) (StatusRequest, error) {
	var req StatusRequest
	words := strings.Fields(args)
	if len(words) > 0 && IsEmoji(words[0]) {
		req.Emoji, words = words[0], words[1:]
	} else if len(words) > 0 && IsShortcode(words[0]) {
		return req, shortcodeError(words[0])
	}

	if n := len(words); n > 0 {
		if spec, matched, err := parseZulipTime(words[n-1]); matched {
			if err != nil {
				return req, err
			}
			req.Expiry, words = &spec, words[:n-1]
		} else if spec, at := trailingKeywordSpec(words); at >= 0 {
			req.Expiry, words = &spec, words[:at]
		}
	}
	req.Text = strings.Join(words, " ")
	return req, nil
}

// trailingKeywordSpec finds the last "in|for|until ..." phrase ending the
// word list that parses as an expiry and returns its start index, or -1.
func trailingKeywordSpec(words []string) (TimeSpec, int) {
	for i := len(words) - 2; i >= 0 && i >= len(words)-3; i-- {
		if spec, ok := parseKeywordSpec(words[i], words[i+1:]); ok {
			return spec, i
		}
	}
	return TimeSpec{}, -1
}

// parseExpiryTokens requires tokens to be exactly one expiry.
func parseExpiryTokens(tokens []string) (TimeSpec, error) {
	if len(tokens) == 1 {
		if spec, matched, err := parseZulipTime(tokens[0]); matched {
			return spec, err
		}
	}
	if spec, ok := parseKeywordSpec(tokens[0], tokens[1:]); ok {
		return spec, nil
	}
	return TimeSpec{}, errs.ErrInvalidTimeSpec.WrapMsg("cannot read expiry", "expiry", strings.Join(tokens, " "))
}

func shortcodeError(code string) error {
	return errs.ErrInvalidStatus.WrapMsg("emoji names are not supported, send the emoji itself", "emoji", code)
}

// stripMention drops a leading "@**Bot Name**" that Zulip includes when
// the bot is mentioned in a stream.
func stripMention(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "@**") {
		return t
	}
	if end := strings.Index(t[3:], "**"); end >= 0 {
		return t[3+end+2:]
	}
	return t
}

func splitFirst(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func quoteAt(s string) (string, int) {
	switch {
	case strings.HasPrefix(s, `"`):
		return `"`, 1
	case strings.HasPrefix(s, "“"):
		return "“", len("“")
	}
	return "", 0
}
