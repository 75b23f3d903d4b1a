package headerdownload

import (
	"github.com/glyphchain/hdsync/internal/log"
	"github.com/pkg/errors"
)

var saveLog = log.New("headerdownload/save")

// SaveStage drains the window head: while the first slice is Verified, it
// writes that slice's headers into the database in strict ascending
// block-number order, then marks the slice Saved. A database write failure
// is fatal: the slice is left Verified and the error is propagated to the
// coordinator, which aborts the run rather than silently dropping data.
type SaveStage struct {
	window *SliceWindow
	writer Writer
}

// NewSaveStage constructs a SaveStage bound to window and writer.
func NewSaveStage(window *SliceWindow, writer Writer) *SaveStage {
	return &SaveStage{window: window, writer: writer}
}

// Run drains as many leading Verified slices as are available, in order.
func (s *SaveStage) Run() error {
	for {
		slice := s.window.Head()
		if slice == nil || slice.Status() != Verified {
			return nil
		}

		headers := slice.Headers()
		for _, h := range headers {
			if err := s.writer.PutHeader(h.Number, h); err != nil {
				return errors.Wrapf(err, "put header %d", h.Number)
			}
			if err := s.writer.PutCanonicalHash(h.Number, h.Hash()); err != nil {
				return errors.Wrapf(err, "put canonical hash %d", h.Number)
			}
		}
		if err := s.writer.Commit(); err != nil {
			return errors.Wrap(err, "commit")
		}

		s.window.SetStatus(slice, Saved, func() { slice.setStatus(Saved) })
		saveLog.Debug("saved slice", "start", slice.StartBlockNum())
	}
}
