// Package uriparam parses the verb[?k1=v1&k2=v2&...] command strings carried
// by Flight actions and descriptors.
package uriparam

import "strings"

// Command is a parsed verb plus its query parameters.
type Command struct {
	Verb   string
	Params string // raw "?k=v&..." suffix, including the leading "?", or "".
}

// Parse splits a raw command string into its verb and parameter suffix.
func Parse(raw string) Command {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return Command{Verb: raw[:idx], Params: raw[idx:]}
	}
	return Command{Verb: raw, Params: ""}
}

// IsVerb reports whether raw names exactly the given verb, optionally
// followed by a "?params" suffix — mirrors the reference implementation's
// is_query: an exact match, or a prefix match with '?' as the boundary.
func IsVerb(raw, verb string) bool {
	if len(raw) > len(verb) {
		return raw[:len(verb)] == verb && raw[len(verb)] == '?'
	}
	return raw == verb
}

// boundaryBefore reports whether c is a valid character to precede a
// parameter key: the start of the query string, '?', '&', or '/'.
func boundaryBefore(c byte) bool {
	return c == '?' || c == '&' || c == '/'
}

// Value looks up a parameter by name within a query string of the form
// "?k1=v1&k2=v2". It rejects matches where name appears as a substring of a
// larger key: the character preceding the match must be '?', '&', or '/',
// and the character following it must be '=', '&', end-of-string, or '/'.
//
// Returns (value, true) if the parameter is present. A bare flag (no '=')
// yields ("", true). A parameter absent entirely yields ("", false).
func Value(queryParams, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	searchFrom := 0
	for {
		idx := strings.Index(queryParams[searchFrom:], name)
		if idx < 0 {
			return "", false
		}
		keyBegin := searchFrom + idx

		// Character before the match must be a valid boundary. At position 0
		// there is an implicit boundary (the caller passes a string that
		// begins with '?' by convention, but we don't require it).
		if keyBegin > 0 && !boundaryBefore(queryParams[keyBegin-1]) {
			searchFrom = keyBegin + 1
			continue
		}

		keyEnd := keyBegin + len(name)
		if keyEnd == len(queryParams) {
			// Key is the very last thing in the string: a bare flag.
			return "", true
		}

		next := queryParams[keyEnd]
		switch next {
		case '&', '/':
			return "", true
		case '=':
			valueBegin := keyEnd + 1
			valueEnd := strings.IndexByte(queryParams[valueBegin:], '&')
			if valueEnd < 0 {
				return queryParams[valueBegin:], true
			}
			return queryParams[valueBegin : valueBegin+valueEnd], true
		default:
			// Matched a substring of a larger key; keep scanning.
			searchFrom = keyBegin + 1
			continue
		}
	}
}

// Has reports whether a parameter (flag or valued) is present at all.
func Has(queryParams, name string) bool {
	_, ok := Value(queryParams, name)
	return ok
}
