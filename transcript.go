package novasonic

import (
	"strings"
	"sync"
)

// TranscriptEntry is one finalized utterance in the conversation,
// attributed to its speaker.
type TranscriptEntry struct {
	Role Role
	Text string
}

// TranscriptAssembler turns streaming textOutput events into a conversation
// transcript. Chunks from SPECULATIVE content blocks are skipped so the
// transcript never contains provisional model output that may later be
// revised; the FINAL block carries the committed text again.
type TranscriptAssembler struct {
	mu          sync.Mutex
	speculative map[string]bool // content ID -> block is provisional
	entries     []TranscriptEntry
}

// NewTranscriptAssembler creates a new TranscriptAssembler instance.
func NewTranscriptAssembler() *TranscriptAssembler {
	return &TranscriptAssembler{speculative: make(map[string]bool)}
}

// OnContentStart records the generation stage of an inbound TEXT block.
// Call this from your ContentStart event handler.
func (t *TranscriptAssembler) OnContentStart(e ContentStart) {
	if e.Type != ContentText {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speculative[e.ContentID] = e.GenerationStage() == StageSpeculative
}

// OnText appends a transcript entry for a finalized text chunk and returns
// it. Chunks belonging to a speculative block, and empty chunks, report
// ok=false and leave the transcript untouched.
func (t *TranscriptAssembler) OnText(e TextOutput) (TranscriptEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.speculative[e.ContentID] || e.Content == "" {
		return TranscriptEntry{}, false
	}
	entry := TranscriptEntry{Role: e.Role, Text: e.Content}
	t.entries = append(t.entries, entry)
	return entry, true
}

// Speculative reports whether a content block was announced as provisional.
func (t *TranscriptAssembler) Speculative(contentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speculative[contentID]
}

// OnContentEnd drops the stage record for a finished TEXT block.
func (t *TranscriptAssembler) OnContentEnd(e ContentEnd) {
	if e.Type != ContentText {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.speculative, e.ContentID)
}

// Entries returns a snapshot of the transcript so far.
func (t *TranscriptAssembler) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// String renders the transcript as one "ROLE: text" line per utterance.
func (t *TranscriptAssembler) String() string {
	entries := t.Entries()
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}
