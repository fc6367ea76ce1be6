package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/motioncare/coachd/pkg/coach/resource"
	"github.com/motioncare/coachd/pkg/coach/transport"
)

const (
	defaultCloseGrace   = 3 * time.Second
	defaultRecordWait   = 5 * time.Second
	defaultReportWait   = 30 * time.Second
	commandQueueSize    = 16
	eventQueueSize      = 32
	completionQueueSize = 1
	micChunkBytes       = 4096
)

// End reasons recorded in the journal and metrics.
const (
	endReasonStopped      = "stopped"
	endReasonDisconnected = "disconnected"
)

// Dependencies wires the coordinator to its collaborators. Gate and
// Transport are required; the rest are optional.
type Dependencies struct {
	Gate      *resource.Gate
	Transport transport.Transport
	Logger    *slog.Logger
	Audio     AudioIO
	Recorder  Recorder
	Reporter  Reporter
	Metrics   Metrics

	// CloseGrace bounds the wait for the transport's close acknowledgement
	// during Stop. After the grace period cleanup proceeds with a warning.
	CloseGrace time.Duration

	Now func() time.Time
}

// Coordinator guarantees at most one agent session is active at a time. All
// state lives in a single goroutine; Start/Stop/Snapshot post commands to it
// and transport callbacks post events, so platform callbacks arriving on
// arbitrary goroutines never touch shared state directly.
type Coordinator struct {
	gate      *resource.Gate
	transport transport.Transport
	logger    *slog.Logger
	audio     AudioIO
	recorder  Recorder
	reporter  Reporter
	metrics   Metrics

	closeGrace time.Duration
	now        func() time.Time

	cmdCh chan command
	evCh  chan event

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

type op int

const (
	opStart op = iota
	opStop
	opSnapshot
)

type command struct {
	op   op
	kind AgentKind
	done chan error
	snap chan Snapshot
}

type evKind int

const (
	evAcquired evKind = iota
	evAcquireFailed
	evOpened
	evOpenFailed
	evConnected
	evMode
	evMessage
	evError
	evDisconnected
	evGraceTimeout
)

type event struct {
	seq  uint64
	kind evKind

	lease          *resource.Lease
	conn           transport.Conn
	err            error
	conversationID string
	mode           transport.Mode
	text           string
	role           string
	code           string
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Gate == nil {
		return nil, fmt.Errorf("resource gate is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("agent transport is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.CloseGrace <= 0 {
		deps.CloseGrace = defaultCloseGrace
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Coordinator{
		gate:       deps.Gate,
		transport:  deps.Transport,
		logger:     deps.Logger,
		audio:      deps.Audio,
		recorder:   deps.Recorder,
		reporter:   deps.Reporter,
		metrics:    deps.Metrics,
		closeGrace: deps.CloseGrace,
		now:        deps.Now,
		cmdCh:      make(chan command, commandQueueSize),
		evCh:       make(chan event, eventQueueSize),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Start brings up a session for the given agent kind. Duplicate starts for
// the kind already Starting/Active resolve as no-op successes; a start for a
// different kind first stops the current session. Requests arriving during a
// transition are queued FIFO. The caller context only bounds the wait, never
// the transition itself.
func (c *Coordinator) Start(ctx context.Context, kind AgentKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown agent kind %q", kind)
	}
	return c.submit(ctx, command{op: opStart, kind: kind, done: make(chan error, completionQueueSize)})
}

// Stop ends the current session, releasing the capture lease once the
// transport acknowledges the close or the grace period elapses. Stopping an
// idle coordinator is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.submit(ctx, command{op: opStop, done: make(chan error, completionQueueSize)})
}

// Snapshot returns a copy of the current session state.
func (c *Coordinator) Snapshot() Snapshot {
	cmd := command{op: opSnapshot, snap: make(chan Snapshot, 1)}
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
		return Snapshot{Status: StatusIdle}
	}
	select {
	case s := <-cmd.snap:
		return s
	case <-c.done:
		return Snapshot{Status: StatusIdle}
	}
}

// Close shuts the coordinator down: the active session (if any) is stopped,
// queued requests fail with ErrClosed, and the state goroutine exits.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.closing) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) submit(ctx context.Context, cmd command) error {
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		// The request stays queued and the transition still runs to
		// completion; only the caller stops waiting.
		return ctx.Err()
	}
}

func (c *Coordinator) post(ev event) {
	select {
	case c.evCh <- ev:
	case <-c.done:
	}
}

// loopState is owned exclusively by run().
type loopState struct {
	status Status
	kind   AgentKind
	seq    uint64

	lease          *resource.Lease
	conn           transport.Conn
	conversationID string
	mode           transport.Mode
	startedAt      time.Time
	activeAt       time.Time
	journalEnd     chan journalEnd
	micStop        chan struct{}

	// connected tracks a "connected" event that raced ahead of the Open
	// return value during Starting.
	connected bool
	failed    bool
	failErr   error

	current *command
	pending []command

	graceTimer *time.Timer
	closingNow bool
}

func (c *Coordinator) run() {
	defer close(c.done)

	st := &loopState{status: StatusIdle}

	closing := c.closing
	for {
		select {
		case cmd := <-c.cmdCh:
			c.handleCommand(st, cmd)
		case ev := <-c.evCh:
			c.handleEvent(st, ev)
		case <-closing:
			closing = nil // fires once; a nil channel never selects again
			c.beginShutdown(st)
		}

		if st.closingNow {
			switch st.status {
			case StatusIdle:
				return
			case StatusActive:
				// A start that was in flight when Close arrived resolved to
				// Active; tear it down before exiting.
				c.beginStop(st, command{op: opStop})
			}
		}
	}
}

func (c *Coordinator) beginShutdown(st *loopState) {
	if st.closingNow {
		return
	}
	st.closingNow = true

	for _, p := range st.pending {
		complete(p, ErrClosed)
	}
	st.pending = nil
	// Starting/Ending transitions resolve on their own; the run loop then
	// sees closingNow and finishes the teardown.
}

func (c *Coordinator) handleCommand(st *loopState, cmd command) {
	if cmd.op == opSnapshot {
		cmd.snap <- Snapshot{
			Status:         st.status,
			Kind:           st.kind,
			Seq:            st.seq,
			ConversationID: st.conversationID,
			Mode:           st.mode,
			StartedAt:      st.startedAt,
		}
		return
	}

	if st.closingNow {
		complete(cmd, ErrClosed)
		return
	}

	// Mid-transition requests queue FIFO behind the in-flight one.
	if st.status == StatusStarting || st.status == StatusEnding {
		st.pending = append(st.pending, cmd)
		return
	}

	switch cmd.op {
	case opStart:
		switch {
		case st.status == StatusActive && st.kind == cmd.kind:
			complete(cmd, nil)
		case st.status == StatusActive:
			// Different agent: rewrite to stop-then-start. The start goes to
			// the queue head so nothing overtakes the rewrite.
			st.pending = append([]command{cmd}, st.pending...)
			c.beginStop(st, command{op: opStop})
		default:
			c.beginStart(st, cmd)
		}
	case opStop:
		if st.status == StatusIdle {
			complete(cmd, nil)
			return
		}
		c.beginStop(st, cmd)
	}
}

func (c *Coordinator) beginStart(st *loopState, cmd command) {
	st.seq++
	st.status = StatusStarting
	st.kind = cmd.kind
	st.conversationID = ""
	st.mode = ""
	st.connected = false
	st.failed = false
	st.failErr = nil
	st.startedAt = c.now()
	st.current = &cmd

	seq := st.seq
	go func() {
		lease, err := c.gate.Acquire(context.Background())
		if err != nil {
			c.post(event{seq: seq, kind: evAcquireFailed, err: err})
			return
		}
		c.post(event{seq: seq, kind: evAcquired, lease: lease})
	}()
}

func (c *Coordinator) openTransport(st *loopState) {
	seq := st.seq
	kind := st.kind
	cb := transport.Callbacks{
		Connected: func(conversationID string) {
			c.post(event{seq: seq, kind: evConnected, conversationID: conversationID})
		},
		ModeChanged: func(mode transport.Mode) {
			if mode == transport.ModeListening && c.audio != nil {
				// The agent yielded the turn; drop any queued speech so the
				// user is not talked over. Flushing here, on the transport's
				// read goroutine, keeps it ordered against Play.
				c.audio.FlushPlayback()
			}
			c.post(event{seq: seq, kind: evMode, mode: mode})
		},
		Message: func(text, role string) {
			c.post(event{seq: seq, kind: evMessage, text: text, role: role})
		},
		Audio: func(pcm []byte) {
			// Routed straight to playback: the pipeline drops audio arriving
			// after its lease was released, so stale connections are safe.
			if c.audio != nil {
				c.audio.Play(pcm)
			}
		},
		Error: func(code string, _ map[string]any) {
			c.post(event{seq: seq, kind: evError, code: code})
		},
		Disconnected: func() {
			c.post(event{seq: seq, kind: evDisconnected})
		},
	}

	go func() {
		conn, err := c.transport.Open(context.Background(), string(kind), cb)
		if err != nil {
			c.post(event{seq: seq, kind: evOpenFailed, err: err})
			return
		}
		c.post(event{seq: seq, kind: evOpened, conn: conn})
	}()
}

func (c *Coordinator) beginStop(st *loopState, cmd command) {
	st.status = StatusEnding
	st.current = &cmd

	seq := st.seq
	conn := st.conn
	grace := c.closeGrace

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if conn != nil {
			if err := conn.Close(ctx); err != nil {
				c.logger.Debug("transport close request failed", "error", err)
			}
		}
	}()

	st.graceTimer = time.AfterFunc(grace, func() {
		c.post(event{seq: seq, kind: evGraceTimeout})
	})
}

func (c *Coordinator) handleEvent(st *loopState, ev event) {
	// Stale completions from a previous handle generation. A connection that
	// surfaces after its attempt already failed is closed and dropped.
	if ev.seq != st.seq || st.status == StatusIdle {
		if ev.kind == evOpened && ev.conn != nil {
			c.closeOrphan(ev.conn)
		}
		return
	}

	switch st.status {
	case StatusStarting:
		c.handleStartingEvent(st, ev)
	case StatusActive:
		c.handleActiveEvent(st, ev)
	case StatusEnding:
		c.handleEndingEvent(st, ev)
	}
}

func (c *Coordinator) handleStartingEvent(st *loopState, ev event) {
	switch ev.kind {
	case evAcquireFailed:
		if c.metrics != nil {
			c.metrics.ResourceAcquireFailure()
		}
		c.logger.Warn("capture resource acquisition failed", "agent", st.kind, "error", ev.err)
		c.failStart(st, ev.err)
	case evAcquired:
		st.lease = ev.lease
		c.openTransport(st)
	case evOpenFailed:
		if c.metrics != nil {
			c.metrics.TransportError("open_failed")
		}
		c.failStart(st, &TransportError{Code: "open_failed", Message: ev.err.Error()})
	case evOpened:
		st.conn = ev.conn
		if st.failed {
			c.closeOrphan(ev.conn)
			st.conn = nil
			c.failStart(st, st.failErr)
			return
		}
		if st.connected {
			c.activate(st)
		}
	case evConnected:
		st.connected = true
		st.conversationID = ev.conversationID
		if st.conn != nil {
			c.activate(st)
		}
	case evError:
		if c.metrics != nil {
			c.metrics.TransportError(ev.code)
		}
		err := &TransportError{Code: ev.code}
		if st.conn == nil {
			// Open has not returned yet; remember the failure and resolve
			// once the connection handle surfaces.
			st.failed = true
			st.failErr = err
			return
		}
		c.failStart(st, err)
	case evDisconnected:
		err := st.failErr
		if err == nil {
			err = &TransportError{Code: "disconnected", Message: "agent disconnected before session became active"}
		}
		if st.conn == nil {
			st.failed = true
			st.failErr = err
			return
		}
		c.failStart(st, err)
	}
}

func (c *Coordinator) handleActiveEvent(st *loopState, ev event) {
	switch ev.kind {
	case evMode:
		st.mode = ev.mode
		c.logger.Debug("agent mode changed", "agent", st.kind, "mode", ev.mode)
	case evMessage:
		c.logger.Debug("agent message", "agent", st.kind, "role", ev.role, "chars", len(ev.text))
	case evError:
		if c.metrics != nil {
			c.metrics.TransportError(ev.code)
		}
		c.logger.Warn("agent transport error", "agent", st.kind, "code", ev.code)
	case evDisconnected:
		// Fatal: force Ending so no orphaned Active handle survives.
		c.logger.Warn("agent disconnected while active", "agent", st.kind, "conversation_id", st.conversationID)
		c.finishSession(st, endReasonDisconnected)
	}
}

func (c *Coordinator) handleEndingEvent(st *loopState, ev event) {
	switch ev.kind {
	case evDisconnected:
		c.finishSession(st, endReasonStopped)
	case evGraceTimeout:
		c.logger.Warn("close acknowledgement not received within grace period, proceeding",
			"agent", st.kind, "grace", c.closeGrace)
		c.finishSession(st, endReasonStopped)
	case evError:
		if c.metrics != nil {
			c.metrics.TransportError(ev.code)
		}
	}
}

func (c *Coordinator) activate(st *loopState) {
	st.status = StatusActive
	st.activeAt = c.now()

	if c.metrics != nil {
		c.metrics.SessionStarted(string(st.kind))
	}
	if c.recorder != nil {
		endCh := make(chan journalEnd, 1)
		st.journalEnd = endCh
		go c.journalSession(string(st.kind), st.conversationID, st.activeAt, endCh)
	}
	if c.audio != nil {
		stop := make(chan struct{})
		st.micStop = stop
		go c.pumpMic(st.conn, stop)
	}
	c.logger.Info("agent session active", "agent", st.kind, "conversation_id", st.conversationID, "seq", st.seq)

	cmd := st.current
	st.current = nil
	if cmd != nil {
		complete(*cmd, nil)
	}
	c.drain(st)
}

// failStart resolves a failed start attempt back to Idle: lease released,
// handle discarded, error reported once to the caller.
func (c *Coordinator) failStart(st *loopState, err error) {
	if st.lease != nil {
		c.gate.Release(st.lease)
		st.lease = nil
	}
	if st.conn != nil {
		c.closeOrphan(st.conn)
		st.conn = nil
	}

	cmd := st.current
	c.resetIdle(st)
	if cmd != nil {
		complete(*cmd, err)
	}
	c.drain(st)
}

// finishSession tears down an Ending (or force-ended Active) session:
// lease released, journal and report fired, completion invoked, next
// pending request serviced.
func (c *Coordinator) finishSession(st *loopState, reason string) {
	if st.graceTimer != nil {
		st.graceTimer.Stop()
		st.graceTimer = nil
	}
	if st.lease != nil {
		c.gate.Release(st.lease)
		st.lease = nil
	}

	kind := st.kind
	conversationID := st.conversationID
	duration := time.Duration(0)
	if !st.activeAt.IsZero() {
		duration = c.now().Sub(st.activeAt)
	}

	if c.metrics != nil {
		c.metrics.SessionEnded(string(kind), reason, duration)
	}
	if st.journalEnd != nil {
		// Buffered: the journal goroutine picks it up once the start record
		// has landed.
		st.journalEnd <- journalEnd{at: c.now(), reason: reason}
		st.journalEnd = nil
	}
	if c.reporter != nil && conversationID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultReportWait)
			defer cancel()
			if err := c.reporter.GenerateReport(ctx, conversationID); err != nil {
				c.logger.Warn("report generation request failed", "conversation_id", conversationID, "error", err)
			}
		}()
	}
	c.logger.Info("agent session ended", "agent", kind, "conversation_id", conversationID, "reason", reason, "duration", duration)

	cmd := st.current
	c.resetIdle(st)
	if cmd != nil {
		complete(*cmd, nil)
	}
	c.drain(st)
}

func (c *Coordinator) resetIdle(st *loopState) {
	st.status = StatusIdle
	st.kind = ""
	st.conn = nil
	st.conversationID = ""
	st.mode = ""
	st.connected = false
	st.failed = false
	st.failErr = nil
	st.startedAt = time.Time{}
	st.activeAt = time.Time{}
	st.journalEnd = nil
	if st.micStop != nil {
		close(st.micStop)
		st.micStop = nil
	}
	st.current = nil
	if st.graceTimer != nil {
		st.graceTimer.Stop()
		st.graceTimer = nil
	}
}

// drain services exactly one queued request after a transition resolves.
// Requests that themselves begin a transition leave the rest queued; no-op
// resolutions keep draining so queued completions fire in arrival order.
func (c *Coordinator) drain(st *loopState) {
	for len(st.pending) > 0 && st.status != StatusStarting && st.status != StatusEnding {
		next := st.pending[0]
		st.pending = st.pending[1:]
		c.handleCommand(st, next)
	}
}

// journalEnd carries the end-of-session record to the journal goroutine.
type journalEnd struct {
	at     time.Time
	reason string
}

// journalSession owns both journal writes for one session so the event loop
// never waits on the recorder. The end record is skipped if the start record
// failed.
func (c *Coordinator) journalSession(kind, conversationID string, startedAt time.Time, endCh <-chan journalEnd) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRecordWait)
	id, err := c.recorder.SessionStarted(ctx, kind, conversationID, startedAt)
	cancel()
	if err != nil {
		c.logger.Warn("journal session start failed", "error", err)
		return
	}

	end := <-endCh
	ctx, cancel = context.WithTimeout(context.Background(), defaultRecordWait)
	defer cancel()
	if err := c.recorder.SessionEnded(ctx, id, end.at, end.reason); err != nil {
		c.logger.Warn("journal session end failed", "error", err)
	}
}

// pumpMic ships captured PCM to the agent until capture stops, the session
// ends, or a send fails. Read blocks while no samples are available and
// returns 0 once the lease release stops the capture device.
func (c *Coordinator) pumpMic(conn transport.Conn, stop <-chan struct{}) {
	buf := make([]byte, micChunkBytes)
	for {
		n := c.audio.Read(buf)
		if n == 0 {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		if err := conn.SendAudio(buf[:n]); err != nil {
			c.logger.Debug("mic frame send failed", "error", err)
			return
		}
	}
}

func (c *Coordinator) closeOrphan(conn transport.Conn) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.closeGrace)
		defer cancel()
		_ = conn.Close(ctx)
	}()
}

func complete(cmd command, err error) {
	if cmd.done == nil {
		return
	}
	cmd.done <- err
}
