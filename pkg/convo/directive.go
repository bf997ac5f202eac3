package convo

import (
	"strings"
)

// Directive is one bracketed control marker found in assistant text,
// e.g. "[navigate: settings]" or "[end_call]".
type Directive struct {
	Name string // registered directive name, lowercased
	Arg  string // text after the first colon, trimmed; may be empty
	Raw  string // the bracketed source text, as written
}

// Key identifies a directive for once-per-turn firing. The same
// name/argument pair repeated within one response fires once.
func (d Directive) Key() string {
	return d.Name + "\x00" + d.Arg
}

// maxDirectiveLen bounds how long a pending "[" run can grow before the
// scanner gives up and treats it as plain text. Real directives are short.
const maxDirectiveLen = 160

// DirectiveScanner finds registered bracketed directives in streamed
// assistant text and strips them from the display copy. It tolerates
// directives split across arbitrary chunk boundaries by holding text from
// an unclosed "[" until the closing "]" arrives. Each directive identity
// fires at most once per scanner; repeats are stripped silently.
//
// Bracketed text whose name is not registered passes through untouched, so
// ordinary prose like "[sic]" survives.
type DirectiveScanner struct {
	names map[string]bool
	fired map[string]bool
	pend  strings.Builder
	open  bool
}

// NewDirectiveScanner registers the directive names to recognize.
// Names are matched case-insensitively.
func NewDirectiveScanner(names []string) *DirectiveScanner {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return &DirectiveScanner{
		names: set,
		fired: make(map[string]bool),
	}
}

// Feed scans one text delta. It returns the display-safe text to append
// and any directives that fired in this chunk.
func (s *DirectiveScanner) Feed(delta string) (string, []Directive) {
	var clean strings.Builder
	var fired []Directive

	for _, r := range delta {
		if !s.open {
			if r == '[' {
				s.open = true
				s.pend.Reset()
				s.pend.WriteRune(r)
				continue
			}
			clean.WriteRune(r)
			continue
		}

		switch {
		case r == ']':
			s.pend.WriteRune(r)
			text, d, ok := s.resolve(s.pend.String())
			if ok {
				if d != nil {
					fired = append(fired, *d)
				}
			} else {
				clean.WriteString(text)
			}
			s.open = false
			s.pend.Reset()
		case r == '[':
			// A new opener abandons the previous run as plain text.
			clean.WriteString(s.pend.String())
			s.pend.Reset()
			s.pend.WriteRune(r)
		default:
			s.pend.WriteRune(r)
			if s.pend.Len() > maxDirectiveLen {
				clean.WriteString(s.pend.String())
				s.pend.Reset()
				s.open = false
			}
		}
	}

	return clean.String(), fired
}

// Flush drains any unclosed pending text as plain text. Call it when the
// stream ends so a trailing "[" is not swallowed.
func (s *DirectiveScanner) Flush() string {
	if !s.open {
		return ""
	}
	s.open = false
	out := s.pend.String()
	s.pend.Reset()
	return out
}

// Finalize scans a complete text against the same fired set and returns
// the stripped copy plus any directives not already fired through Feed.
// Use it on the turn's finalized text, which may differ from the
// concatenated deltas.
func (s *DirectiveScanner) Finalize(full string) (string, []Directive) {
	// Reset split-chunk state; the input is whole.
	s.open = false
	s.pend.Reset()
	clean, fired := s.Feed(full)
	return clean + s.Flush(), fired
}

// resolve inspects one complete "[...]" run. It returns either the text to
// emit verbatim (ok=false) or, for a registered name, ok=true with the
// directive to fire, nil when this identity already fired this turn.
func (s *DirectiveScanner) resolve(raw string) (string, *Directive, bool) {
	inner := raw[1 : len(raw)-1]
	name := inner
	arg := ""
	if i := strings.IndexByte(inner, ':'); i >= 0 {
		name = inner[:i]
		arg = strings.TrimSpace(inner[i+1:])
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if !s.names[name] {
		return raw, nil, false
	}

	d := Directive{Name: name, Arg: arg, Raw: raw}
	if s.fired[d.Key()] {
		return "", nil, true // strip, already fired
	}
	s.fired[d.Key()] = true
	return "", &d, true
}
