// Context Store - bounded read-only views over the request context.
//
// Information Hiding:
// - Offset clamping rules
// - Match cap for pattern searches
// - Partition boundary arithmetic
//
// All operations are pure reads over the original text, addressed by byte
// offset, so repeated calls with the same arguments return identical results.

package rlm

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxGrepMatches caps how many matches a single grep returns. When the cap is
// hit the result is flagged as truncated rather than silently dropped.
const MaxGrepMatches = 50

// DefaultPeekLength is used when a peek names no length.
const DefaultPeekLength = 512

// Region identifies a half-open [Start, End) byte range of the context.
// End < 0 means "to the end of the context".
type Region struct {
	Start int
	End   int
}

// WholeContext addresses the entire stored text.
func WholeContext() Region {
	return Region{Start: 0, End: -1}
}

// Store holds the raw context text for one request.
type Store struct {
	text string
}

// NewStore creates a store over the given text.
func NewStore(text string) *Store {
	return &Store{text: text}
}

// Len returns the context size in bytes.
func (s *Store) Len() int {
	return len(s.text)
}

// clamp normalizes a region against the stored text: negative starts go to
// zero, a negative end means end-of-context, and both bounds are pulled
// inside [0, Len] with Start <= End.
func (s *Store) clamp(r Region) Region {
	n := len(s.text)
	if r.Start < 0 {
		r.Start = 0
	}
	if r.Start > n {
		r.Start = n
	}
	if r.End < 0 || r.End > n {
		r.End = n
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}

// Slice materializes a region as a string.
func (s *Store) Slice(r Region) string {
	r = s.clamp(r)
	return s.text[r.Start:r.End]
}

// Peek returns a bounded slice starting at offset. Out-of-range offsets are
// clamped, never an error; a negative offset addresses from the end of the
// context (suffix peek). length <= 0 falls back to DefaultPeekLength.
func (s *Store) Peek(offset, length int) string {
	if length <= 0 {
		length = DefaultPeekLength
	}
	if offset < 0 {
		offset = len(s.text) + offset
	}
	return s.Slice(Region{Start: offset, End: s.clampAdd(offset, length)})
}

// clampAdd returns offset+length guarding against overflow past the text end.
func (s *Store) clampAdd(offset, length int) int {
	if offset < 0 {
		offset = 0
	}
	end := offset + length
	if end < offset || end > len(s.text) {
		end = len(s.text)
	}
	return end
}

// Match is one grep hit: the matching line and the byte offset of its start
// within the whole context.
type Match struct {
	Offset int
	Line   string
}

// Grep returns all lines within the region matching the compiled pattern,
// each tagged with its offset. The second return reports truncation: true
// when more than MaxGrepMatches lines matched and the tail was dropped.
func (s *Store) Grep(pattern string, region Region) ([]Match, bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	region = s.clamp(region)
	var matches []Match
	truncated := false

	pos := region.Start
	for pos < region.End {
		lineEnd := strings.IndexByte(s.text[pos:region.End], '\n')
		var line string
		var next int
		if lineEnd < 0 {
			line = s.text[pos:region.End]
			next = region.End
		} else {
			line = s.text[pos : pos+lineEnd]
			next = pos + lineEnd + 1
		}

		if re.MatchString(line) {
			if len(matches) >= MaxGrepMatches {
				truncated = true
				break
			}
			matches = append(matches, Match{Offset: pos, Line: line})
		}
		pos = next
	}

	return matches, truncated, nil
}

// Partition deterministically splits a region into n contiguous,
// non-overlapping, order-preserving chunks. The last chunk absorbs the
// remainder. n is clamped to [1, region size] (empty regions yield one empty
// chunk).
func (s *Store) Partition(n int, region Region) []Region {
	region = s.clamp(region)
	size := region.End - region.Start

	if n < 1 {
		n = 1
	}
	if n > size && size > 0 {
		n = size
	}
	if size == 0 {
		return []Region{region}
	}

	chunkSize := size / n
	chunks := make([]Region, n)
	for i := 0; i < n; i++ {
		start := region.Start + i*chunkSize
		end := start + chunkSize
		if i == n-1 {
			end = region.End
		}
		chunks[i] = Region{Start: start, End: end}
	}
	return chunks
}
