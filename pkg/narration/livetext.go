package narration

import "sync/atomic"

// LiveText is the current narration shown to viewers. Writers replace
// it atomically; the last write wins.
type LiveText struct {
	v atomic.Pointer[liveValue]
	n atomic.Uint64
}

type liveValue struct {
	text    string
	version uint64
}

// NewLiveText returns a cell holding initial.
func NewLiveText(initial string) *LiveText {
	l := &LiveText{}
	l.Set(initial)
	return l
}

// Set replaces the text and returns its version.
func (l *LiveText) Set(text string) uint64 {
	version := l.n.Add(1)
	l.v.Store(&liveValue{text: text, version: version})
	return version
}

// Get returns the current text and its version. Versions increase with
// every Set, even when the text is unchanged.
func (l *LiveText) Get() (string, uint64) {
	v := l.v.Load()
	if v == nil {
		return "", 0
	}
	return v.text, v.version
}

// Text returns the current text.
func (l *LiveText) Text() string {
	text, _ := l.Get()
	return text
}
