package liveshader

import (
	"time"

	"github.com/gogpu/liveshader/shader"
)

// Reporter receives compile diagnostics and frame statistics. A nil
// diagnostic means the slot compiled cleanly again.
//
// ReportDiagnostic is called from compile workers, ReportFrameStats from the
// render thread.
type Reporter interface {
	ReportDiagnostic(slot string, d *shader.Diagnostic)
	ReportFrameStats(fps float64, frameTime time.Duration)
}

// reporters fans out to several receivers.
type reporters []Reporter

func (rs reporters) ReportDiagnostic(slot string, d *shader.Diagnostic) {
	for _, r := range rs {
		r.ReportDiagnostic(slot, d)
	}
}

func (rs reporters) ReportFrameStats(fps float64, frameTime time.Duration) {
	for _, r := range rs {
		r.ReportFrameStats(fps, frameTime)
	}
}
