package progress

import (
	"fmt"
	"strings"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/domain"
)

// ExitError is the terminal failure derived from a finished process. Kind is
// set when a warning pattern was still unresolved at exit and got promoted
// to fatal.
type ExitError struct {
	Kind    domain.WarningKind
	Message string
}

func (e *ExitError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// Classify decides the job outcome once the process has exited. Success is
// exit code 0, or full completion with no warning pattern seen (the tool may
// exit non-zero after a successful transfer due to unrelated trailing
// warnings). Anything else is fatal: a still-unresolved warning is promoted,
// otherwise the accumulated diagnostic text is the best available error.
func (p *Parser) Classify(exitCode int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if exitCode == 0 {
		return nil
	}
	total := len(p.items)
	if total > 0 && p.completedCount == total && len(p.warnings) == 0 {
		return nil
	}

	if len(p.warnings) > 0 {
		last := p.warnings[len(p.warnings)-1]
		return &ExitError{Kind: last.Kind, Message: last.Message}
	}

	diag := strings.TrimSpace(p.diag.String())
	if diag == "" {
		diag = fmt.Sprintf("download tool exited with code %d", exitCode)
	}
	return &ExitError{Message: diag}
}
