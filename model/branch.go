package model

import (
	"strings"
	"unicode"
)

// BranchSuffix is the fixed marker appended to every derived branch name.
const BranchSuffix = "_AI"

// BranchName derives the target branch from team and leader names. Each name
// is uppercased, whitespace runs become single underscores, and remaining
// non-alphanumeric characters are stripped. The derivation is total: any
// input, including empty strings, yields a valid branch name.
func BranchName(team, leader string) string {
	t := branchToken(team)
	l := branchToken(leader)
	switch {
	case t == "" && l == "":
		return "RUN" + BranchSuffix
	case t == "":
		return l + BranchSuffix
	case l == "":
		return t + BranchSuffix
	}
	return t + "_" + l + BranchSuffix
}

func branchToken(s string) string {
	var b strings.Builder
	for _, field := range strings.Fields(strings.ToUpper(s)) {
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, field)
		if cleaned == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		b.WriteString(cleaned)
	}
	return b.String()
}
