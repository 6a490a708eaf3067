package twitch

import "strings"

// ircLine is the minimal shape of an IRC line. Tags are skipped; the full
// PRIVMSG/WHISPER parsing (tags, display names) is done by go-twitch-irc.
type ircLine struct {
	Nick    string // from the prefix, if any
	Command string
	Params  []string // middle params
	Text    string   // trailing param
}

func parseIRC(line string) ircLine {
	var l ircLine
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "@") {
		if i := strings.IndexByte(line, ' '); i >= 0 {
			line = strings.TrimLeft(line[i+1:], " ")
		} else {
			return l
		}
	}
	if strings.HasPrefix(line, ":") {
		prefix := line[1:]
		if i := strings.IndexByte(prefix, ' '); i >= 0 {
			line = strings.TrimLeft(prefix[i+1:], " ")
			prefix = prefix[:i]
		} else {
			return l
		}
		if i := strings.IndexByte(prefix, '!'); i >= 0 {
			prefix = prefix[:i]
		}
		l.Nick = prefix
	}
	if i := strings.Index(line, " :"); i >= 0 {
		l.Text = line[i+2:]
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		l.Text = line[1:]
		line = ""
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return l
	}
	l.Command = strings.ToUpper(fields[0])
	l.Params = fields[1:]
	return l
}

// isChatLine reports whether an outgoing line counts against the chat rate limit.
func isChatLine(line string) bool {
	return strings.HasPrefix(line, "PRIVMSG ") || strings.HasPrefix(line, "WHISPER ")
}
