// Package jsonutil extracts JSON arrays from free-form LLM responses.
// Models frequently wrap their output in prose or markdown fences; callers
// only care about the first parseable array.
package jsonutil

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoArray is returned when the text contains no valid JSON array.
var ErrNoArray = errors.New("jsonutil: no JSON array found in text")

var reFence = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)\n```")

// ExtractArray returns the first valid JSON array found in text. It tries a
// markdown code fence first, then scans for a bracket-balanced span. Text
// surrounding the array is tolerated.
func ExtractArray(text string) (json.RawMessage, error) {
	for _, m := range reFence.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "[") && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), nil
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := closingBracket(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoArray
}

// ExtractArrayInto extracts the first JSON array in text and unmarshals it
// into target.
func ExtractArrayInto(text string, target any) error {
	raw, err := ExtractArray(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// closingBracket returns the index of the ']' balancing the '[' at start,
// skipping brackets inside double-quoted strings and escape sequences.
// Returns -1 when the array never closes.
func closingBracket(text string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
