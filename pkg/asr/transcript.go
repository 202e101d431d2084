package asr

import (
	"sort"
	"strings"
)

// Transcript assembles incremental recognition results.
//
// With dynamic correction enabled the service sends "apd" results that
// append segment sn, and "rpl" results that replace the segments rg[0]
// through rg[1] with segment sn. Without it every result appends.
type Transcript struct {
	segs map[int]string
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{segs: make(map[int]string)}
}

// Apply folds one result into the transcript.
func (t *Transcript) Apply(sn int, pgs string, rg []int, text string) {
	if pgs == "rpl" && len(rg) == 2 {
		for sn := range t.segs {
			if sn >= rg[0] && sn <= rg[1] {
				delete(t.segs, sn)
			}
		}
	}
	t.segs[sn] = text
}

// Segments returns the live segments in sn order.
func (t *Transcript) Segments() []Segment {
	keys := make([]int, 0, len(t.segs))
	for sn := range t.segs {
		keys = append(keys, sn)
	}
	sort.Ints(keys)

	out := make([]Segment, 0, len(keys))
	for _, sn := range keys {
		out = append(out, Segment{SN: sn, Text: t.segs[sn]})
	}
	return out
}

// Text returns the concatenated transcript.
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, s := range t.Segments() {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Len returns the number of live segments.
func (t *Transcript) Len() int {
	return len(t.segs)
}
