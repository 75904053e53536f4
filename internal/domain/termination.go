package domain

import "time"

// TerminationSpec is the immutable stop configuration of a run.
type TerminationSpec struct {
	// MaxItems caps accepted rows. Zero means no cap.
	MaxItems int

	// Cutoff is the push-mode wall-clock stop time. Zero means none.
	Cutoff time.Time

	// Since and Until bound item timestamps in pull mode. Zero means open.
	Since time.Time
	Until time.Time
}

// PageStats summarizes one fetched page for the controller.
type PageStats struct {
	// Total is the number of items on the page.
	Total int

	// InRange is how many items fell inside [Since, Until].
	InRange int

	// Older is how many items were older than Since.
	Older int

	// HasMore is false once the source has no further page.
	HasMore bool
}

// TerminationController decides whether a run should keep consuming. It is
// owned by a single run and is not safe for concurrent use.
type TerminationController struct {
	mode      Mode
	spec      TerminationSpec
	now       func() time.Time
	collected int
	reason    StopReason
}

// NewTerminationController creates a controller. now defaults to time.Now.
func NewTerminationController(mode Mode, spec TerminationSpec, now func() time.Time) *TerminationController {
	if now == nil {
		now = time.Now
	}
	return &TerminationController{mode: mode, spec: spec, now: now}
}

// ShouldContinue is consulted before consuming the next item.
func (c *TerminationController) ShouldContinue() bool {
	if c.reason != StopNone {
		return false
	}
	if c.spec.MaxItems > 0 && c.collected >= c.spec.MaxItems {
		c.reason = StopMaxItems
		return false
	}
	if c.mode == ModePush && !c.spec.Cutoff.IsZero() && !c.now().Before(c.spec.Cutoff) {
		c.reason = StopCutoff
		return false
	}
	return true
}

// RecordAccepted counts one row that passed the filter. Rejected rows are
// never counted.
func (c *TerminationController) RecordAccepted() {
	c.collected++
}

// Collected returns the number of accepted rows so far.
func (c *TerminationController) Collected() int {
	return c.collected
}

// Remaining returns how many more rows may be accepted; ok is false when
// there is no cap.
func (c *TerminationController) Remaining() (n int, ok bool) {
	if c.spec.MaxItems <= 0 {
		return 0, false
	}
	if left := c.spec.MaxItems - c.collected; left > 0 {
		return left, true
	}
	return 0, true
}

// Deadline returns the push-mode cutoff, if any.
func (c *TerminationController) Deadline() (time.Time, bool) {
	if c.mode != ModePush || c.spec.Cutoff.IsZero() {
		return time.Time{}, false
	}
	return c.spec.Cutoff, true
}

// InRange re-checks a pull-mode item timestamp against [Since, Until]. A zero
// timestamp is only in range when no boundary is set.
func (c *TerminationController) InRange(t time.Time) bool {
	if t.IsZero() {
		return c.spec.Since.IsZero() && c.spec.Until.IsZero()
	}
	if !c.spec.Since.IsZero() && t.Before(c.spec.Since) {
		return false
	}
	if !c.spec.Until.IsZero() && t.After(c.spec.Until) {
		return false
	}
	return true
}

// OlderThanSince reports whether t has walked past the lower boundary.
func (c *TerminationController) OlderThanSince(t time.Time) bool {
	return !t.IsZero() && !c.spec.Since.IsZero() && t.Before(c.spec.Since)
}

// ObservePage records the outcome of a pull-mode page. The run stops when the
// source has no further page, or when a whole page lies before Since.
func (c *TerminationController) ObservePage(p PageStats) {
	if c.reason != StopNone {
		return
	}
	if !p.HasMore {
		c.reason = StopExhausted
		return
	}
	if p.Total > 0 && p.InRange == 0 && p.Older == p.Total {
		c.reason = StopBoundary
	}
}

// Stop ends the run with reason unless it has already ended.
func (c *TerminationController) Stop(reason StopReason) {
	if c.reason == StopNone {
		c.reason = reason
	}
}

// Reason returns why the run stopped, or StopNone while it is running.
func (c *TerminationController) Reason() StopReason {
	return c.reason
}
