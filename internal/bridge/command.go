package bridge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPrefixes are the command prefixes used when none are configured.
var DefaultPrefixes = []string{"/", "!"}

// ParseCommand splits chat text into a command name and arguments.
//
// The text must start with one of prefixes followed by the name ("/ask",
// "!ask"); a Telegram style "@botname" suffix on the name is dropped. Leading
// --key=value tokens after the name become arguments and the remainder,
// with its line breaks intact, becomes args["text"]. Names are lowercased.
func ParseCommand(text string, prefixes []string) (string, map[string]string, bool) {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	text = strings.TrimSpace(text)

	rest, ok := "", false
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(text, p) {
			rest, ok = text[len(p):], true
			break
		}
	}
	if !ok {
		return "", nil, false
	}

	name, rest := cutToken(rest)
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if !validName(name) {
		return "", nil, false
	}
	return name, ParseArgs(rest), true
}

// ParseArgs parses the text after a command name. Slash commands that arrive
// already split (Slack, Discord) use it directly.
func ParseArgs(rest string) map[string]string {
	args := map[string]string{}
	for {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		tok, after := cutToken(rest)
		key, value, isFlag := strings.Cut(strings.TrimPrefix(tok, "--"), "=")
		if !strings.HasPrefix(tok, "--") || !isFlag || key == "" {
			break
		}
		args[key] = value
		rest = after
	}
	if t := strings.TrimSpace(rest); t != "" {
		args["text"] = t
	}
	return args
}

func cutToken(s string) (string, string) {
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}

// SessionKey builds the session id for a conversation location:
// platform-channel, or platform-channel-thread inside a thread. Characters
// outside [A-Za-z0-9_.-] become '_'.
func SessionKey(platform, channel, thread string) string {
	parts := []string{platform, channel}
	if thread != "" {
		parts = append(parts, thread)
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return '_'
	}, strings.Join(parts, "-"))
}

// SplitMessage breaks text into chunks of at most max bytes, preferring line
// breaks, then spaces, in the back half of each chunk. Chunks never split a
// UTF-8 sequence. Empty text yields no chunks.
func SplitMessage(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(remaining[cut]) {
			cut--
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(remaining)
			cut = size
		}
		if i := strings.LastIndex(remaining[:cut], "\n"); i > max/2 {
			cut = i + 1
		} else if i := strings.LastIndex(remaining[:cut], " "); i > max/2 {
			cut = i + 1
		}
		if chunk := strings.TrimRight(remaining[:cut], " \n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}
