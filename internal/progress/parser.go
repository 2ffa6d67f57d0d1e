// Package progress turns the external download tool's unstructured,
// interleaved two-stream text output into structured progress snapshots.
//
// The tool's output is an unstable wire format. Every recognized pattern
// lives in this package so that future output drift only requires adapter
// changes; nothing else in the orchestrator inspects raw tool text.
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
)

// Stream tags a raw chunk with the pipe it was read from.
type Stream int

const (
	// StreamPrimary is the tool's stdout
	StreamPrimary Stream = iota
	// StreamDiagnostic is the tool's stderr
	StreamDiagnostic
)

// Recognized output patterns, version-matched to the tool's current format.
var (
	// item discovered during folder traversal
	reDiscovered = regexp.MustCompile(`^Processing file (\S+) (.+)$`)

	// explicit end-of-discovery marker; small jobs may skip it, in which
	// case the first transfer percentage acts as the fallback marker
	reDiscoveryDone = regexp.MustCompile(`Building directory structure completed`)

	// per-item transfer progress, with and without a leading label
	reTransferLabeled = regexp.MustCompile(`^(.+?):\s*(\d{1,3})%(?:\|.*)?$`)
	reTransferBare    = regexp.MustCompile(`^\s*(\d{1,3})%(?:\|.*)?$`)

	// item already present on disk, treated as instantaneous completion
	reSkipped = regexp.MustCompile(`^Skipping (.+?) \(already exists\)`)

	// terminal marker; the tool may still exit non-zero afterwards due to
	// unrelated trailing warnings
	reAllDone = regexp.MustCompile(`Download completed`)

	// non-fatal diagnostic conditions surfaced as warnings
	reQuota      = regexp.MustCompile(`Too many users have viewed or downloaded`)
	rePermission = regexp.MustCompile(`Cannot retrieve the public link|Permission denied`)
)

// diagTailLimit bounds the accumulated diagnostic text kept for error
// classification.
const diagTailLimit = 16 * 1024

// fracCap keeps a sub-100 item from ever pushing the job percent to 100
// before the terminal marker is observed.
const fracCap = 0.99

// Parser accumulates per-job state from raw output chunks and emits a
// snapshot whenever an observable field changes. Safe for concurrent Feed
// calls from the two stream pumps.
type Parser struct {
	mu sync.Mutex

	items     []string
	seen      map[string]bool
	skipped   map[string]bool
	completed map[string]bool

	completedCount int
	currentItem    string
	currentFrac    float64
	maxPercent     int
	discoveryDone  bool
	done           bool

	warnings []domain.Warning
	diag     strings.Builder
	partial  map[Stream]string
	last     *domain.Snapshot
}

// NewParser creates a parser for one job.
func NewParser() *Parser {
	return &Parser{
		seen:      make(map[string]bool),
		skipped:   make(map[string]bool),
		completed: make(map[string]bool),
		partial:   make(map[Stream]string),
	}
}

// Feed consumes one raw chunk from the given stream and returns the
// snapshots and warnings it produced, in order. Chunks may split lines at
// arbitrary points; incomplete trailing lines are buffered until the next
// chunk on the same stream.
func (p *Parser) Feed(stream Stream, chunk string) ([]domain.Snapshot, []domain.Warning) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var snaps []domain.Snapshot
	var warns []domain.Warning

	data := p.partial[stream] + chunk
	// progress bars redraw with bare carriage returns, so \r terminates a
	// line just like \n
	lines := strings.FieldsFunc(data, func(r rune) bool { return r == '\n' || r == '\r' })
	if len(data) > 0 && !strings.ContainsAny(data[len(data)-1:], "\n\r") && len(lines) > 0 {
		p.partial[stream] = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	} else {
		p.partial[stream] = ""
	}

	for _, line := range lines {
		p.consumeLine(stream, line, &snaps, &warns)
	}
	return snaps, warns
}

// Current returns the last emitted snapshot, or nil before the first one.
func (p *Parser) Current() *domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	s := *p.last
	return &s
}

// Warnings returns all warnings observed so far.
func (p *Parser) Warnings() []domain.Warning {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Warning, len(p.warnings))
	copy(out, p.warnings)
	return out
}

func (p *Parser) consumeLine(stream Stream, line string, snaps *[]domain.Snapshot, warns *[]domain.Warning) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return
	}

	if stream == StreamDiagnostic {
		p.appendDiag(line)
	}

	switch {
	case reQuota.MatchString(line):
		w := domain.Warning{Kind: domain.WarningQuota, Message: line}
		p.warnings = append(p.warnings, w)
		*warns = append(*warns, w)
		return

	case rePermission.MatchString(line):
		w := domain.Warning{Kind: domain.WarningPermission, Message: line}
		p.warnings = append(p.warnings, w)
		*warns = append(*warns, w)
		return

	case reAllDone.MatchString(line):
		p.done = true
		p.discoveryDone = true
		p.completedCount = len(p.items)
		p.currentFrac = 0
		p.currentItem = ""
		p.emit(snaps)
		return

	case reDiscoveryDone.MatchString(line):
		p.discoveryDone = true
		p.emit(snaps)
		return
	}

	if m := reDiscovered.FindStringSubmatch(line); m != nil {
		p.addItem(m[2])
		p.emit(snaps)
		return
	}

	if m := reSkipped.FindStringSubmatch(line); m != nil {
		label := m[1]
		p.addItem(label)
		if !p.completed[label] {
			p.completed[label] = true
			p.completedCount++
		}
		p.skipped[label] = true
		if p.currentItem == label {
			p.currentItem = ""
			p.currentFrac = 0
		}
		p.emit(snaps)
		return
	}

	if label, pct, ok := p.matchTransfer(line); ok {
		// the first percentage indicator is the discovery-complete
		// fallback for small jobs that skip the explicit marker
		p.discoveryDone = true

		if label != "" {
			p.addItem(label)
			if label != p.currentItem {
				p.currentItem = label
				p.currentFrac = 0
			}
		} else if p.currentItem == "" {
			p.currentItem = p.firstIncomplete()
		}

		p.currentFrac = float64(pct) / 100
		if pct >= 100 && p.currentItem != "" {
			if !p.completed[p.currentItem] {
				p.completed[p.currentItem] = true
				p.completedCount++
			}
			p.currentItem = ""
			p.currentFrac = 0
		}
		p.emit(snaps)
	}
	// unrecognized lines are absorbed, never surfaced as errors
}

func (p *Parser) matchTransfer(line string) (label string, pct int, ok bool) {
	if m := reTransferBare.FindStringSubmatch(line); m != nil {
		pct, _ = strconv.Atoi(m[1])
		return "", clampPct(pct), true
	}
	if m := reTransferLabeled.FindStringSubmatch(line); m != nil {
		pct, _ = strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), clampPct(pct), true
	}
	return "", 0, false
}

func (p *Parser) addItem(label string) {
	if p.seen[label] {
		return
	}
	p.seen[label] = true
	p.items = append(p.items, label)
}

func (p *Parser) firstIncomplete() string {
	for _, label := range p.items {
		if !p.completed[label] {
			return label
		}
	}
	return ""
}

// emit appends a snapshot only when an observable field changed since the
// last emission.
func (p *Parser) emit(snaps *[]domain.Snapshot) {
	snap := p.snapshotLocked()
	if p.last != nil && p.last.Equal(snap) {
		return
	}
	p.last = &snap
	*snaps = append(*snaps, snap)
}

func (p *Parser) snapshotLocked() domain.Snapshot {
	total := len(p.items)
	snap := domain.Snapshot{
		CompletedCount: p.completedCount,
		SkippedCount:   len(p.skipped),
		TotalCount:     total,
		CurrentItem:    p.currentItem,
		Phase:          p.phase(),
	}
	snap.Percent = p.percent(total)
	return snap
}

func (p *Parser) phase() domain.Phase {
	switch {
	case p.done:
		return domain.PhaseDone
	case p.discoveryDone:
		return domain.PhaseTransferring
	default:
		return domain.PhaseDiscovering
	}
}

// percent is pinned to 0 during discovery, capped at 99 until every item is
// complete, and 100 only on full completion. The result never decreases
// within one job: a transfer line switching to a fresh item would otherwise
// drop the weighted sum, so emissions are clamped to the running maximum.
func (p *Parser) percent(total int) int {
	pct := p.rawPercent(total)
	if pct < p.maxPercent {
		pct = p.maxPercent
	}
	p.maxPercent = pct
	return pct
}

func (p *Parser) rawPercent(total int) int {
	if !p.discoveryDone || total == 0 {
		if p.done {
			return 100
		}
		return 0
	}
	if p.completedCount >= total {
		return 100
	}
	frac := p.currentFrac
	if frac > fracCap {
		frac = fracCap
	}
	pct := int(100*(float64(p.completedCount)+frac)/float64(total) + 0.5)
	if pct > 99 {
		pct = 99
	}
	return pct
}

func (p *Parser) appendDiag(line string) {
	p.diag.WriteString(line)
	p.diag.WriteByte('\n')
	if p.diag.Len() > diagTailLimit {
		// keep the tail; the newest diagnostics matter most
		tail := p.diag.String()
		tail = tail[len(tail)-diagTailLimit:]
		p.diag.Reset()
		p.diag.WriteString(tail)
	}
}

func clampPct(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
