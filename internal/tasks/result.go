package tasks

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/notify"
	"github.com/lysyi3m/broadcast/internal/state"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseDetecting  Phase = "detecting"
	PhaseDelivering Phase = "delivering"
	PhasePersisting Phase = "persisting"
	PhaseDone       Phase = "done"
	PhaseUnknown    Phase = "unknown"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitSourceFailed  = 1
	ExitConfig        = 2
	ExitDeliveryError = 3
)

type ItemFailure struct {
	ItemID string
	Err    error
}

// Result is the outcome of one source's run. When Err is set, Phase is the
// phase the run failed in.
type Result struct {
	Source string
	Phase  Phase
	Err    error

	Fetched        int
	New            int
	Delivered      int
	Filtered       int
	Failures       []ItemFailure
	StateRecovered bool
	DryRun         bool
	Duration       time.Duration
}

func (r Result) fail(err error) Result {
	r.Err = err
	return r
}

// Fatal reports whether the source aborted before completing its run.
func (r Result) Fatal() bool {
	return r.Err != nil
}

// Degraded reports whether the run completed but some items were not
// delivered.
func (r Result) Degraded() bool {
	return r.Err == nil && len(r.Failures) > 0
}

type Report struct {
	RunID    string
	Results  []Result
	Duration time.Duration
}

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Fatal() {
			out = append(out, res)
		}
	}
	return out
}

func (r Report) Degraded() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Degraded() {
			out = append(out, res)
		}
	}
	return out
}

// ExitCode maps the report to the process exit status. Delivery failures
// only count when failOnDelivery is set.
func (r Report) ExitCode(failOnDelivery bool) int {
	if len(r.Failed()) > 0 {
		return ExitSourceFailed
	}
	if failOnDelivery && len(r.Degraded()) > 0 {
		return ExitDeliveryError
	}
	return ExitOK
}

// WriteSummary prints one line per source followed by the failure details.
func (r Report) WriteSummary(w io.Writer) error {
	var b strings.Builder
	for _, res := range r.Results {
		switch {
		case res.Fatal():
			fmt.Fprintf(&b, "%s: FAILED in %s (%s): %v\n", res.Source, res.Phase, ErrorKind(res.Err), res.Err)
		case res.Degraded():
			fmt.Fprintf(&b, "%s: completed with %d delivery failure(s), delivered %d of %d new\n",
				res.Source, len(res.Failures), res.Delivered, res.New-res.Filtered)
			for _, f := range res.Failures {
				fmt.Fprintf(&b, "  %s: %s: %v\n", f.ItemID, ErrorKind(f.Err), f.Err)
			}
		default:
			fmt.Fprintf(&b, "%s: ok, %d new, %d delivered, %d filtered\n", res.Source, res.New, res.Delivered, res.Filtered)
		}
		if res.StateRecovered {
			fmt.Fprintf(&b, "  %s: persisted state was unreadable and has been reset\n", res.Source)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ErrorKind names the failure class of err for operators.
func ErrorKind(err error) string {
	var (
		fe *feed.FetchError
		de *notify.DeliveryError
		pe *panicError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &fe):
		return "fetch " + fe.Kind.String()
	case errors.Is(err, state.ErrPersist):
		return "persist"
	case errors.Is(err, state.ErrCorruptState):
		return "corrupt state"
	case errors.As(err, &de):
		return "delivery " + de.Kind.String()
	case errors.As(err, &pe):
		return "panic"
	default:
		return "error"
	}
}
