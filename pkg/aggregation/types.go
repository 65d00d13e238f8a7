package aggregation

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingURL is recorded for a unit whose outputs carry no data object of
// the builder's type.
var ErrMissingURL = errors.New("no data object url")

// UnitResult is the outcome of aggregating one workflow execution
type UnitResult struct {
	UnitID   string `json:"unit_id"`
	URL      string `json:"url,omitempty"`
	Terms    int    `json:"terms"`
	Checksum string `json:"checksum,omitempty"` // xxhash64 of the source bytes, hex
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether the unit could not be aggregated.
func (r UnitResult) Failed() bool {
	return r.Err != nil || r.Error != ""
}

func (r *UnitResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Report summarizes one Builder.Run.
type Report struct {
	ID        string       `json:"id"`
	Builder   string       `json:"builder"`
	Started   time.Time    `json:"started"`
	Finished  time.Time    `json:"finished"`
	Units     []UnitResult `json:"units"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Pending   []string     `json:"pending,omitempty"`
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Summary is a one-line description used in logs.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: %d aggregated, %d failed, %d skipped, %d pending in %v",
		r.Builder, r.Processed, r.Failed, r.Skipped, len(r.Pending), r.Duration().Round(time.Millisecond))
}

func (r *Report) add(res UnitResult) {
	r.Units = append(r.Units, res)
	if res.Failed() {
		r.Failed++
	} else {
		r.Processed++
	}
}

// Cycle groups the reports of one scheduler pass over all builders.
type Cycle struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Reports  []*Report `json:"reports"`
	Error    string    `json:"error,omitempty"`
}

// Totals sums processed, failed and skipped units across reports.
func (c *Cycle) Totals() (processed, failed, skipped int) {
	for _, r := range c.Reports {
		processed += r.Processed
		failed += r.Failed
		skipped += r.Skipped
	}
	return processed, failed, skipped
}
