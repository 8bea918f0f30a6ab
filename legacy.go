package pers

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Older keyspaces spelled attribute names as printable literals after the
// separator: 'name', 333, 12L, or an object reference written as
// Persistent(_key='...'). Reference names were also written with the
// instance address embedded, as Persistent@0x7f...(_key='...'), and some with
// key= instead of _key=. All reference forms normalize to a plain key.
const legacyRefType = "Persistent"

func decodeLegacyAttrName(suffix []byte, s *Store) (any, error) {
	text := string(suffix)
	if !utf8.ValidString(text) {
		return nil, dataErrf(suffix, 0, nil, "invalid legacy attribute name")
	}

	if strings.HasPrefix(text, legacyRefType+"@") {
		at := len(legacyRefType)
		paren := strings.IndexByte(text, '(')
		if paren < 0 {
			return nil, dataErrf(suffix, at, nil, "invalid legacy reference attribute name")
		}
		text = text[:at] + text[paren:]
	}
	if rest, ok := strings.CutPrefix(text, legacyRefType+"("); ok {
		key, err := parseLegacyRef(rest)
		if err != nil {
			return nil, dataErrf(suffix, 0, err, "invalid legacy reference attribute name")
		}
		return refName(Ref{key}, s), nil
	}

	switch c := text[0]; {
	case c == '\'' || c == '"' || c == 'u' || c == 'b':
		v, rest, err := parseLegacyString(text)
		if err != nil {
			return nil, dataErrf(suffix, 0, err, "invalid legacy string attribute name")
		}
		if rest != "" {
			return nil, dataErrf(suffix, len(text)-len(rest), nil, "trailing data after legacy string attribute name")
		}
		return v, nil
	case c == '-' || (c >= '0' && c <= '9'):
		digits := strings.TrimSuffix(text, "L")
		i, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return nil, dataErrf(suffix, 0, err, "invalid legacy integer attribute name")
		}
		return int(i), nil
	default:
		return nil, dataErrf(suffix, 0, nil, "unsupported legacy attribute name")
	}
}

// parseLegacyRef parses the argument list of a reference, e.g. `_key='abc')`.
func parseLegacyRef(args string) (string, error) {
	body, ok := strings.CutSuffix(args, ")")
	if !ok {
		return "", strconv.ErrSyntax
	}
	if i := strings.Index(body, "_key="); i >= 0 {
		body = body[i+len("_key="):]
	} else if i := strings.Index(body, "key="); i >= 0 {
		body = body[i+len("key="):]
	} else {
		return "", strconv.ErrSyntax
	}
	key, rest, err := parseLegacyString(body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(rest) != "" {
		return "", strconv.ErrSyntax
	}
	if err := validateObjectKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// parseLegacyString parses a single- or double-quoted string literal with an
// optional u/b prefix, returning the decoded value and the remaining input.
func parseLegacyString(text string) (string, string, error) {
	if text != "" && (text[0] == 'u' || text[0] == 'b') {
		text = text[1:]
	}
	if text == "" || (text[0] != '\'' && text[0] != '"') {
		return "", text, strconv.ErrSyntax
	}
	quote := text[0]
	text = text[1:]

	var buf strings.Builder
	for {
		if text == "" {
			return "", "", strconv.ErrSyntax
		}
		c := text[0]
		if c == quote {
			return buf.String(), text[1:], nil
		}
		if c != '\\' {
			buf.WriteByte(c)
			text = text[1:]
			continue
		}
		if len(text) < 2 {
			return "", "", strconv.ErrSyntax
		}
		switch esc := text[1]; esc {
		case '\\', '\'', '"':
			buf.WriteByte(esc)
			text = text[2:]
		case 'n':
			buf.WriteByte('\n')
			text = text[2:]
		case 't':
			buf.WriteByte('\t')
			text = text[2:]
		case 'r':
			buf.WriteByte('\r')
			text = text[2:]
		case 'x':
			if len(text) < 4 {
				return "", "", strconv.ErrSyntax
			}
			v, err := strconv.ParseUint(text[2:4], 16, 8)
			if err != nil {
				return "", "", strconv.ErrSyntax
			}
			buf.WriteByte(byte(v))
			text = text[4:]
		case 'u':
			if len(text) < 6 {
				return "", "", strconv.ErrSyntax
			}
			v, err := strconv.ParseUint(text[2:6], 16, 16)
			if err != nil {
				return "", "", strconv.ErrSyntax
			}
			buf.WriteRune(rune(v))
			text = text[6:]
		default:
			return "", "", strconv.ErrSyntax
		}
	}
}
