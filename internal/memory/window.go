package memory

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

const (
	// DefaultReservedTokens is held back from the window for the model reply.
	DefaultReservedTokens = 4096

	// segmentMessageLimit caps messages per hot segment before a new one opens.
	segmentMessageLimit = 10

	// coldSummaryOverhead is the fixed framing cost charged for a cold summary.
	coldSummaryOverhead = 20
)

// Placeholder texts used when history is demoted or rendered.
const (
	CompressedPlaceholder = "[已压缩的历史消息]"
	SummaryHeader         = "[历史对话摘要]"
)

// Segment groups consecutive messages that demote together.
type Segment struct {
	ID         uuid.UUID
	Messages   []*Message
	TokenCount int
	Priority   int
	Locked     bool
	Summary    string // set when the segment moves to cold
	CreatedAt  time.Time
}

type band string

const (
	bandHot  band = "hot"
	bandWarm band = "warm"
	bandCold band = "cold"
)

type msgLoc struct {
	band band
	seg  int
	idx  int
}

// ContextWindow is a token-accounted layered message buffer. Hot segments
// hold the active tail, warm segments recent history, cold segments only a
// summary. Not safe for concurrent use; callers serialize per session.
type ContextWindow struct {
	maxTokens       int
	reservedTokens  int
	availableTokens int

	counter *tokens.Counter

	hot  []*Segment
	warm []*Segment
	cold []*Segment

	currentTokens int
	index         map[uuid.UUID]msgLoc
}

// NewContextWindow returns a window with the default reply reservation.
func NewContextWindow(maxTokens int, counter *tokens.Counter) *ContextWindow {
	return NewContextWindowReserved(maxTokens, DefaultReservedTokens, counter)
}

// NewContextWindowReserved returns a window with an explicit reservation.
// The reservation is clamped to a quarter of the window when it would eat
// most or all of it; small windows must keep a usable message budget.
func NewContextWindowReserved(maxTokens, reserved int, counter *tokens.Counter) *ContextWindow {
	if reserved > maxTokens/4 {
		clamped := maxTokens / 4
		slog.Warn("reply reservation too large for window, clamping",
			"max_tokens", maxTokens, "reserved", reserved, "clamped", clamped)
		reserved = clamped
	}
	return &ContextWindow{
		maxTokens:       maxTokens,
		reservedTokens:  reserved,
		availableTokens: maxTokens - reserved,
		counter:         counter,
		index:           make(map[uuid.UUID]msgLoc),
	}
}

// UsageRatio is currentTokens over the available budget.
func (w *ContextWindow) UsageRatio() float64 {
	return float64(w.currentTokens) / float64(w.availableTokens)
}

// RemainingTokens is the unspent part of the available budget.
func (w *ContextWindow) RemainingTokens() int {
	return w.availableTokens - w.currentTokens
}

// CurrentTokens returns the accounted token total.
func (w *ContextWindow) CurrentTokens() int { return w.currentTokens }

// AvailableTokens returns the budget after the reply reservation.
func (w *ContextWindow) AvailableTokens() int { return w.availableTokens }

// Add appends a message to the hot band. The message's TokenCount is set as
// a side effect. Returns false, without adding, when the message would
// overflow the remaining budget.
func (w *ContextWindow) Add(msg *Message, priority int, lock bool) bool {
	cost := w.counter.CountMessage(msg.Counted())
	msg.TokenCount = cost

	if cost > w.RemainingTokens() {
		slog.Warn("message would overflow context window",
			"message_tokens", cost, "remaining", w.RemainingTokens())
		return false
	}

	var seg *Segment
	if len(w.hot) == 0 || w.needNewSegment() {
		seg = &Segment{
			ID:        uuid.Must(uuid.NewV7()),
			Priority:  priority,
			Locked:    lock,
			CreatedAt: time.Now().UTC(),
		}
		w.hot = append(w.hot, seg)
	} else {
		seg = w.hot[len(w.hot)-1]
	}

	seg.Messages = append(seg.Messages, msg)
	seg.TokenCount += cost
	w.currentTokens += cost
	w.index[msg.ID] = msgLoc{bandHot, len(w.hot) - 1, len(seg.Messages) - 1}

	return true
}

// AddAll adds messages in order, stopping at the first overflow.
// Returns the count added.
func (w *ContextWindow) AddAll(msgs []*Message, priority int, lock bool) int {
	added := 0
	for _, m := range msgs {
		if !w.Add(m, priority, lock) {
			break
		}
		added++
	}
	return added
}

func (w *ContextWindow) needNewSegment() bool {
	last := w.hot[len(w.hot)-1]
	return len(last.Messages) >= segmentMessageLimit || last.Locked
}

// AllMessages renders the window in prompt order: one synthetic system
// message per summarized cold segment, then warm, then hot.
func (w *ContextWindow) AllMessages() []*Message {
	var out []*Message
	for _, seg := range w.cold {
		if seg.Summary == "" {
			continue
		}
		sm := NewMessage(RoleSystem, SummaryHeader+"\n"+seg.Summary)
		sm.TokenCount = seg.TokenCount
		out = append(out, sm)
	}
	for _, seg := range w.warm {
		out = append(out, seg.Messages...)
	}
	for _, seg := range w.hot {
		out = append(out, seg.Messages...)
	}
	return out
}

// ActiveMessages returns only the hot-band messages.
func (w *ContextWindow) ActiveMessages() []*Message {
	var out []*Message
	for _, seg := range w.hot {
		out = append(out, seg.Messages...)
	}
	return out
}

// WarmSegmentCount reports how many segments sit in the warm band.
func (w *ContextWindow) WarmSegmentCount() int { return len(w.warm) }

// MoveToWarm demotes a hot segment. Token accounting is unchanged; warm
// messages still render in full.
func (w *ContextWindow) MoveToWarm(segIdx int) bool {
	if segIdx < 0 || segIdx >= len(w.hot) {
		return false
	}
	seg := w.hot[segIdx]
	w.hot = append(w.hot[:segIdx], w.hot[segIdx+1:]...)
	w.warm = append(w.warm, seg)
	w.reindexBand(bandHot)
	w.reindexSegment(bandWarm, len(w.warm)-1)
	return true
}

// MoveToCold demotes a warm segment, replacing its rendered cost with the
// summary's cost plus a fixed overhead. The difference is credited back.
func (w *ContextWindow) MoveToCold(segIdx int, summary string) bool {
	if segIdx < 0 || segIdx >= len(w.warm) {
		return false
	}
	seg := w.warm[segIdx]
	w.warm = append(w.warm[:segIdx], w.warm[segIdx+1:]...)

	if summary != "" {
		seg.Summary = summary
		original := seg.TokenCount
		seg.TokenCount = w.counter.CountText(summary) + coldSummaryOverhead
		w.currentTokens -= original - seg.TokenCount
	}

	w.cold = append(w.cold, seg)
	w.reindexBand(bandWarm)
	w.reindexSegment(bandCold, len(w.cold)-1)
	return true
}

// Remove deletes a message from the hot or warm band by id. Cold segments
// hold only summaries and do not support removal.
func (w *ContextWindow) Remove(messageID uuid.UUID) bool {
	loc, ok := w.index[messageID]
	if !ok || loc.band == bandCold {
		return false
	}

	segs := w.bandSegments(loc.band)
	if loc.seg >= len(segs) {
		return false
	}
	seg := segs[loc.seg]
	if loc.idx >= len(seg.Messages) {
		return false
	}

	msg := seg.Messages[loc.idx]
	seg.Messages = append(seg.Messages[:loc.idx], seg.Messages[loc.idx+1:]...)
	seg.TokenCount -= msg.TokenCount
	w.currentTokens -= msg.TokenCount
	delete(w.index, messageID)

	for i := loc.idx; i < len(seg.Messages); i++ {
		w.index[seg.Messages[i].ID] = msgLoc{loc.band, loc.seg, i}
	}
	return true
}

// Clear drops the window contents. With keepLocked, locked hot segments
// survive and the accounting is rebuilt from them.
func (w *ContextWindow) Clear(keepLocked bool) {
	if keepLocked {
		var kept []*Segment
		for _, seg := range w.hot {
			if seg.Locked {
				kept = append(kept, seg)
			}
		}
		w.hot = kept
	} else {
		w.hot = nil
	}
	w.warm = nil
	w.cold = nil

	w.currentTokens = 0
	w.index = make(map[uuid.UUID]msgLoc)
	for segIdx, seg := range w.hot {
		w.currentTokens += seg.TokenCount
		for msgIdx, msg := range seg.Messages {
			w.index[msg.ID] = msgLoc{bandHot, segIdx, msgIdx}
		}
	}
}

// Optimize demotes segments until usage drops to the target ratio: warm
// segments collapse to cold with a placeholder summary, then non-locked hot
// segments shift to warm to become demotion candidates. Locked segments
// never move. Returns the tokens actually freed.
func (w *ContextWindow) Optimize(targetRatio float64) int {
	target := int(float64(w.availableTokens) * targetRatio)
	freed := 0

	for w.currentTokens > target {
		if len(w.warm) > 0 {
			before := w.warm[0].TokenCount
			w.MoveToCold(0, CompressedPlaceholder)
			freed += before - w.cold[len(w.cold)-1].TokenCount
			continue
		}

		moved := false
		for i, seg := range w.hot {
			if !seg.Locked {
				w.MoveToWarm(i)
				moved = true
				break
			}
		}
		if !moved {
			break
		}
	}

	if freed > 0 {
		slog.Info("context window optimized",
			"tokens_freed", freed, "usage_ratio", w.UsageRatio())
	}
	return freed
}

// WindowStats is a point-in-time snapshot of the window accounting.
type WindowStats struct {
	MaxTokens       int     `json:"max_tokens"`
	AvailableTokens int     `json:"available_tokens"`
	CurrentTokens   int     `json:"current_tokens"`
	RemainingTokens int     `json:"remaining_tokens"`
	UsageRatio      float64 `json:"usage_ratio"`
	HotSegments     int     `json:"hot_segments"`
	WarmSegments    int     `json:"warm_segments"`
	ColdSegments    int     `json:"cold_segments"`
	TotalMessages   int     `json:"total_messages"`
}

// Stats returns the current accounting snapshot.
func (w *ContextWindow) Stats() WindowStats {
	return WindowStats{
		MaxTokens:       w.maxTokens,
		AvailableTokens: w.availableTokens,
		CurrentTokens:   w.currentTokens,
		RemainingTokens: w.RemainingTokens(),
		UsageRatio:      w.UsageRatio(),
		HotSegments:     len(w.hot),
		WarmSegments:    len(w.warm),
		ColdSegments:    len(w.cold),
		TotalMessages:   len(w.index),
	}
}

func (w *ContextWindow) bandSegments(b band) []*Segment {
	switch b {
	case bandHot:
		return w.hot
	case bandWarm:
		return w.warm
	default:
		return w.cold
	}
}

func (w *ContextWindow) reindexBand(b band) {
	for segIdx, seg := range w.bandSegments(b) {
		for msgIdx, msg := range seg.Messages {
			w.index[msg.ID] = msgLoc{b, segIdx, msgIdx}
		}
	}
}

func (w *ContextWindow) reindexSegment(b band, segIdx int) {
	seg := w.bandSegments(b)[segIdx]
	for msgIdx, msg := range seg.Messages {
		w.index[msg.ID] = msgLoc{b, segIdx, msgIdx}
	}
}
