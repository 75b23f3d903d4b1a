package headerdownload

import (
	"context"
	"time"

	"github.com/glyphchain/hdsync/headerdownload/checkpoint"
	"github.com/glyphchain/hdsync/internal/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var coordinatorLog = log.New("headerdownload")

// notifyCeiling bounds how long the coordinator waits for a status change
// before looping anyway, so RetryStage fires even when nothing else is
// happening.
const notifyCeiling = 1 * time.Second

// ChainConfig is the opaque network identity forwarded to the transport by
// StatusProvider before a sync run starts. The downloader never inspects it
// beyond passing it along.
type ChainConfig struct {
	NetworkID uint64
	Genesis   BlockHash
}

// StatusProvider announces the local chain status to the transport once,
// before the coordinator loop starts. This mirrors the status handshake a
// real sentry-backed node performs so peers agree to serve it; it is a thin
// pass-through and does not perform any consensus validation.
type StatusProvider interface {
	Announce(ctx context.Context, transport Transport, chain ChainConfig) error
}

// noopStatusProvider is the default StatusProvider for callers that don't
// need a handshake (e.g. the in-memory mock transport used by tests).
type noopStatusProvider struct{}

func (noopStatusProvider) Announce(context.Context, Transport, ChainConfig) error { return nil }

// RunState is the minimal resumption token carried between sync phases: the
// furthest block height reached by a prior run.
type RunState struct {
	MaxBlockNum BlockNumber
}

// Report is returned when a run completes or is cancelled.
type Report struct {
	FinalBlockNumReached BlockNumber
	RunState             RunState
}

// Config configures the downloader constructor.
type Config struct {
	ChainConfig      ChainConfig
	MemLimit         uint64
	StartBlockNum    BlockNumber
	FinalBlockNum    BlockNumber
	PreviousRunState *RunState
	StatusProvider   StatusProvider // optional; defaults to a no-op
}

// Downloader is the pre-verified header downloader: it owns the slice
// window and the eight pipeline stages, and drives them from a single
// coordinator loop.
type Downloader struct {
	cfg       Config
	window    *SliceWindow
	transport Transport
	writer    Writer

	fetch        *FetchStage
	receive      *FetchReceiveStage
	retry        *RetryStage
	verifyIntern *VerifyInternalStage
	verifyLink   *VerifyLinkStage
	penalize     *PenalizeStage
	save         *SaveStage
	refill       *RefillStage
}

// New constructs a Downloader. Construction fails if start/final are
// misaligned or if mem_limit cannot hold even one slice.
func New(ctx context.Context, cfg Config, transport Transport, writer Writer, table *checkpoint.Table) (*Downloader, error) {
	start := cfg.StartBlockNum
	if cfg.PreviousRunState != nil && cfg.PreviousRunState.MaxBlockNum > start {
		start = AlignToSliceStart(cfg.PreviousRunState.MaxBlockNum)
	}

	window, err := NewSliceWindow(cfg.MemLimit, start, cfg.FinalBlockNum)
	if err != nil {
		return nil, errors.Wrap(err, "headerdownload: construction failed")
	}

	receive, err := NewFetchReceiveStage(ctx, window, transport)
	if err != nil {
		return nil, errors.Wrap(err, "headerdownload: subscribing to transport")
	}

	d := &Downloader{
		cfg:          cfg,
		window:       window,
		transport:    transport,
		writer:       writer,
		fetch:        NewFetchStage(window, transport),
		receive:      receive,
		retry:        NewRetryStage(window),
		verifyIntern: NewVerifyInternalStage(window),
		verifyLink:   NewVerifyLinkStage(window, table),
		penalize:     NewPenalizeStage(window, transport),
		save:         NewSaveStage(window, writer),
		refill:       NewRefillStage(window),
	}
	return d, nil
}

// Window exposes the underlying slice window for introspection (tests,
// progress reporting). Outer layers should treat it as read-only.
func (d *Downloader) Window() *SliceWindow { return d.window }

// Run drives the coordinator loop to completion, to a fatal database error,
// or to context cancellation (in which case a partial Report is returned).
func (d *Downloader) Run(ctx context.Context) (Report, error) {
	statusProvider := d.cfg.StatusProvider
	if statusProvider == nil {
		statusProvider = noopStatusProvider{}
	}
	if err := statusProvider.Announce(ctx, d.transport, d.cfg.ChainConfig); err != nil {
		return Report{}, errors.Wrap(err, "headerdownload: announcing status")
	}

	ticker := time.NewTicker(notifyCeiling)
	defer ticker.Stop()

	counts := func() (c [numStatuses]int) {
		for s := range c {
			c[s] = d.window.CountInStatus(Status(s))
		}
		return c
	}

	for !d.window.IsDone() {
		select {
		case <-ctx.Done():
			return d.partialReport(), nil
		default:
		}

		before := counts()
		if err := d.tick(ctx); err != nil {
			return d.partialReport(), err
		}

		d.window.NotifyAll()

		// The tick itself changed slice statuses: run the next tick straight
		// away instead of waiting.
		if counts() != before {
			continue
		}

		select {
		case <-ctx.Done():
			return d.partialReport(), nil
		case <-d.window.Watch(Empty):
		case <-d.window.Watch(Waiting):
		case <-d.window.Watch(Downloaded):
		case <-d.window.Watch(VerifiedInternally):
		case <-d.window.Watch(Verified):
		case <-d.window.Watch(Invalid):
		case <-d.window.Watch(Saved):
		case <-ticker.C:
		}
	}

	coordinatorLog.Info("sync complete", "final", d.window.MaxBlockNum())
	return Report{
		FinalBlockNumReached: d.window.MaxBlockNum(),
		RunState:             RunState{MaxBlockNum: d.window.MaxBlockNum()},
	}, nil
}

// tick runs every stage once. The network-suspending stages (dispatching
// fetches, draining inbound responses) run concurrently via errgroup since
// neither depends on the other's result within a tick; the rest are
// sequenced because each reads state the previous one just wrote (verify
// depends on receive having populated Downloaded slices, penalize depends on
// verify having produced Invalid slices, and so on).
func (d *Downloader) tick(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return d.fetch.Run(ctx) })
	g.Go(func() error { return d.receive.Run(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if d.window.HasAnyInStatus(Waiting) {
		d.retry.Run()
	}
	if d.window.HasAnyInStatus(Downloaded) {
		d.verifyIntern.Run()
	}
	if d.window.HasAnyInStatus(VerifiedInternally) {
		d.verifyLink.Run()
	}
	if d.window.HasAnyInStatus(Invalid) {
		d.penalize.Run()
	}
	if err := d.save.Run(); err != nil {
		return errors.Wrap(err, "headerdownload: database write failed")
	}
	d.refill.Run()
	return nil
}

func (d *Downloader) partialReport() Report {
	min := d.window.MinBlockNum()
	return Report{
		FinalBlockNumReached: min,
		RunState:             RunState{MaxBlockNum: min},
	}
}
