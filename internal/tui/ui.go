// Package tui renders a live dashboard of a run: one row per worker
// instance with its pid, lifecycle state and bogo-op rate, fed by the
// shared counters and the engine's event stream.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/nxfs/stress-ng/internal/counters"
	"github.com/nxfs/stress-ng/internal/engine"
)

const (
	tableTitle      = "Workers"
	refreshInterval = 500 * time.Millisecond
)

// Run drives a dashboard until the engine closes the event stream.
// onQuit is invoked when the user asks to stop the run early; the
// dashboard itself stays up through the teardown that follows.
func Run(ctx context.Context, store *counters.Store, events <-chan engine.Event, onQuit func()) error {
	return New(store, onQuit).Run(ctx, events)
}

// UI is the tview application around the worker table.
type UI struct {
	app    *tview.Application
	table  *tview.Table
	footer *tview.TextView

	store  *counters.Store
	onQuit func()

	mu       sync.Mutex
	rows     [][]string
	banner   string
	notes    map[int]string
	pids     map[int]int
	prev     []uint64
	prevAt   time.Time
	started  time.Time
	stopping bool
	slots    map[string]int

	wg       sync.WaitGroup
	quitOnce sync.Once
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a dashboard over the run's counter store.
func New(store *counters.Store, onQuit func()) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 0)
	table.SetBorder(true).SetTitle(tableTitle)

	footer := tview.NewTextView().SetDynamicColors(true)
	footer.SetBorder(true)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 1, true).
		AddItem(footer, 3, 0, false)

	ui := &UI{
		app:     app,
		table:   table,
		footer:  footer,
		store:   store,
		onQuit:  onQuit,
		notes:   make(map[int]string),
		pids:    make(map[int]int),
		prev:    make([]uint64, store.Instances()),
		started: time.Now(),
		slots:   make(map[string]int),
		done:    make(chan struct{}),
	}
	for i := 0; i < store.Instances(); i++ {
		id := store.Instance(i)
		ui.slots[id.Name()] = i
	}

	app.SetRoot(flex, true)
	app.SetInputCapture(ui.handleKey)

	return ui
}

// Run starts the application and consumes events until the stream
// closes. It returns the terminal error from tview, if any.
func (u *UI) Run(ctx context.Context, events <-chan engine.Event) error {
	if events == nil {
		return fmt.Errorf("tui: nil event stream")
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consume(ctx, events)
		u.Stop()
	}()

	err := u.app.Run()
	u.Stop()
	u.wg.Wait()
	return err
}

// Stop tears the application down. Safe to call more than once.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		close(u.done)
		u.app.Stop()
	})
}

// consume applies events and periodic counter refreshes until the
// event stream closes. Once the application is gone it keeps draining
// so the engine's event sends never block, but stops touching tview.
func (u *UI) consume(ctx context.Context, events <-chan engine.Event) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	draining := false
	done := u.done
	ctxDone := ctx.Done()

	u.refresh()
	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-done:
			draining = true
			done = nil
		case <-ctxDone:
			ctxDone = nil
			u.markStopping()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !draining {
				u.applyEvent(evt)
			}
		case <-tick:
			u.refresh()
		}
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyCtrlC, tcell.KeyEscape:
		u.quit()
		return nil
	case tcell.KeyRune:
		if event.Rune() == 'q' || event.Rune() == 'Q' {
			u.quit()
			return nil
		}
	}
	return event
}

// quit asks the run to stop but leaves the dashboard up so the
// teardown is visible; the stream closing takes the screen down.
func (u *UI) quit() {
	u.markStopping()
	u.quitOnce.Do(func() {
		if u.onQuit != nil {
			u.onQuit()
		}
	})
}

func (u *UI) markStopping() {
	u.mu.Lock()
	u.stopping = true
	u.mu.Unlock()
}

func (u *UI) slot(evt engine.Event) (int, bool) {
	i, ok := u.slots[fmt.Sprintf("%s-%d", evt.Stressor, evt.Instance)]
	return i, ok
}

func (u *UI) applyEvent(evt engine.Event) {
	u.mu.Lock()
	switch evt.Type {
	case engine.EventTypeStopping:
		u.stopping = true
	case engine.EventTypeSpawned:
		if i, ok := u.slot(evt); ok {
			u.pids[i] = evt.Pid
		}
	case engine.EventTypeForcedKill:
		if i, ok := u.slot(evt); ok {
			u.notes[i] = "forced kill"
		}
	case engine.EventTypeOOMRestart:
		if i, ok := u.slot(evt); ok {
			u.notes[i] = "oom respawn"
		}
	case engine.EventTypeFailed:
		if i, ok := u.slot(evt); ok {
			if evt.Err != nil {
				u.notes[i] = evt.Err.Error()
			} else {
				u.notes[i] = "failed"
			}
		}
	case engine.EventTypeReaped:
		if i, ok := u.slot(evt); ok {
			u.notes[i] = evt.Message
		}
	}
	u.mu.Unlock()
	u.refresh()
}

// refresh snapshots the counters into prepared rows and queues a
// redraw. Rates come from the delta since the previous snapshot.
func (u *UI) refresh() {
	snaps := u.store.Snapshot()
	now := time.Now()

	u.mu.Lock()
	elapsed := now.Sub(u.prevAt).Seconds()
	rows := make([][]string, len(snaps))
	var totalOps uint64
	for i, snap := range snaps {
		rate := "-"
		if !u.prevAt.IsZero() && elapsed > 0 {
			rate = fmt.Sprintf("%.0f", float64(snap.Ops-u.prev[i])/elapsed)
		}
		pid := "-"
		if p := u.pids[i]; p > 0 {
			pid = strconv.Itoa(p)
		}
		rows[i] = []string{
			snap.Stressor,
			strconv.Itoa(snap.Index),
			pid,
			snap.State.String(),
			strconv.FormatUint(snap.Ops, 10),
			rate,
			u.notes[i],
		}
		u.prev[i] = snap.Ops
		totalOps += snap.Ops
	}
	u.prevAt = now
	u.rows = rows
	u.banner = u.bannerLocked(now, totalOps)
	u.mu.Unlock()

	u.queueDraw()
}

func (u *UI) bannerLocked(now time.Time, totalOps uint64) string {
	banner := fmt.Sprintf("elapsed %s   total bogo ops %d",
		now.Sub(u.started).Truncate(time.Second), totalOps)
	if deadline, ok := u.store.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			banner += fmt.Sprintf("   %s left", left.Truncate(time.Second))
		}
	}
	if u.stopping {
		banner += "   [red]stopping[-]"
	}
	return banner + "   (q quits)"
}

// queueDraw hands the redraw to the tview loop without ever blocking
// the consumer: once the application stops, nobody services the
// update queue anymore.
func (u *UI) queueDraw() {
	select {
	case <-u.done:
		return
	default:
	}
	go u.app.QueueUpdateDraw(u.redraw)
}

func (u *UI) redraw() {
	u.mu.Lock()
	rows := u.rows
	banner := u.banner
	u.mu.Unlock()

	u.table.Clear()
	for col, h := range []string{"STRESSOR", "INST", "PID", "STATE", "BOGO OPS", "OPS/S", "NOTE"} {
		u.table.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}
	for r, vals := range rows {
		for c, v := range vals {
			u.table.SetCell(r+1, c, tview.NewTableCell(v))
		}
	}
	u.footer.SetText(banner)
}
