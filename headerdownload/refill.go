package headerdownload

// RefillStage trims Saved slices off the window head, then appends new Empty
// slices at the tail up to capacity or until final_block_num is reached.
type RefillStage struct {
	window *SliceWindow
}

// NewRefillStage constructs a RefillStage bound to window.
func NewRefillStage(window *SliceWindow) *RefillStage {
	return &RefillStage{window: window}
}

// Run trims Saved slices and refills the tail.
func (r *RefillStage) Run() {
	if head := r.window.Head(); head != nil && head.Status() == Saved {
		r.window.Remove(Saved)
	}
	r.window.Refill()
}
