// Package signature maps words to their anagram equivalence key.
//
// Only the ASCII letters a-z and A-Z are significant, folded to lower case.
// Every other rune is ignored, so the same policy applies wherever a key is
// computed.
package signature

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Func computes the equivalence key of a word. Two words are anagrams of each
// other iff their keys are equal.
type Func func(word string) string

const (
	StrategySorted    = "sorted"
	StrategyFrequency = "frequency"
)

const alphabetSize = 26

// ForStrategy returns the signature function registered under name.
func ForStrategy(name string) (Func, error) {
	switch name {
	case StrategySorted, "":
		return Sorted, nil
	case StrategyFrequency:
		return Frequency, nil
	default:
		return nil, fmt.Errorf("unknown signature strategy: %s", name)
	}
}

// Sorted returns the word's letters in ascending order ("listen" -> "eilnst").
func Sorted(word string) string {
	letters := letters(word)
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return string(letters)
}

// Frequency returns the 26 letter counts joined by '.'. Counts are written in
// decimal, so a letter repeated ten or more times stays unambiguous.
func Frequency(word string) string {
	var counts [alphabetSize]int
	for _, b := range letters(word) {
		counts[b-'a']++
	}
	var sb strings.Builder
	sb.Grow(alphabetSize * 2)
	for i, n := range counts {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

// HasLetter reports whether word has at least one significant letter. Words
// without one would all share the empty key.
func HasLetter(word string) bool {
	for i := 0; i < len(word); i++ {
		if _, ok := fold(word[i]); ok {
			return true
		}
	}
	return false
}

// letters returns the folded a-z bytes of word, in input order.
func letters(word string) []byte {
	out := make([]byte, 0, len(word))
	for i := 0; i < len(word); i++ {
		if b, ok := fold(word[i]); ok {
			out = append(out, b)
		}
	}
	return out
}

// fold maps an ASCII letter to lower case. Bytes of multi-byte runes are
// always >= 0x80, so they never match.
func fold(b byte) (byte, bool) {
	switch {
	case b >= 'a' && b <= 'z':
		return b, true
	case b >= 'A' && b <= 'Z':
		return b + ('a' - 'A'), true
	}
	return 0, false
}
