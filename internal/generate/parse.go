package generate

import (
	"strings"
)

// Sections is the result of parsing a two-section response:
//
//	SUBJECT: <text, may wrap onto following lines>
//	<blank line>
//	BODY: <text to the end>
//
// Labels are case-insensitive and may be wrapped in markdown emphasis.
// The subject ends at the first blank line or BODY: line. A subject that
// runs to the end of the text without either is discarded, since it has
// swallowed whatever body followed it.
type Sections struct {
	Subject string
	Body    string
}

func (s Sections) Complete() bool { return s.Subject != "" && s.Body != "" }

type parseState int

const (
	statePreamble parseState = iota
	stateSubject
	stateSubjectDone
	stateBody
)

func ParseSections(text string) Sections {
	var (
		state   = statePreamble
		subject []string
		body    []string
	)
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if state == stateBody {
			body = append(body, raw)
			continue
		}
		if rest, ok := label(raw, "body"); ok {
			state = stateBody
			body = append(body, rest)
			continue
		}
		switch state {
		case statePreamble:
			if rest, ok := label(raw, "subject"); ok {
				state = stateSubject
				if rest != "" {
					subject = append(subject, rest)
				}
			}
		case stateSubject:
			if strings.TrimSpace(raw) == "" {
				if len(subject) > 0 {
					state = stateSubjectDone
				}
				continue
			}
			subject = append(subject, strings.TrimSpace(raw))
		}
	}
	if state == stateSubject {
		subject = nil
	}
	return Sections{
		Subject: strings.Join(subject, " "),
		Body:    strings.TrimSpace(strings.Join(body, "\n")),
	}
}

// label reports whether line starts with name followed by a colon, and
// returns the text after it.
func label(line, name string) (string, bool) {
	s := strings.TrimLeft(strings.TrimSpace(line), "*#_ ")
	if len(s) < len(name)+1 || !strings.EqualFold(s[:len(name)], name) {
		return "", false
	}
	s = strings.TrimLeft(s[len(name):], "*_ ")
	if !strings.HasPrefix(s, ":") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(s[1:], "*_ ")), true
}
