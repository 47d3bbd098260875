package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
	stopTimeout      = 10 * time.Second
	commandBuffer    = 256
)

var (
	ErrStopped       = errors.New("coordinator stopped")
	ErrChannelClosed = errors.New("realtime channel closed by backend")
)

// Request describes one consumer's interest in changes to a table.
// Requests with the same Table and ChannelPrefix share one channel.
type Request struct {
	Table         string
	ChannelPrefix string
	// Priority orders dispatch on a shared channel and admission when the
	// channel limit is reached. Higher runs first.
	Priority int
	OnChange func(domain.ChangeEvent)
	// OnError, if set, is called asynchronously when the request's channel
	// cannot be opened or is lost.
	OnError func(error)
}

type ChannelStatus struct {
	Name        string `json:"name"`
	Table       string `json:"table"`
	Prefix      string `json:"prefix"`
	Subscribers int    `json:"subscribers"`
}

// QueueStatus is a diagnostic snapshot of the coordinator. Channels still
// being opened count against MaxChannels.
type QueueStatus struct {
	ActiveRequests  int             `json:"active_requests"`
	PendingRequests int             `json:"pending_requests"`
	FailedRequests  int             `json:"failed_requests"`
	ActiveChannels  int             `json:"active_channels"`
	OpeningChannels int             `json:"opening_channels"`
	MaxChannels     int             `json:"max_channels"`
	Channels        []ChannelStatus `json:"channels"`
}

type channelKey struct {
	table  string
	prefix string
}

func (k channelKey) name() string {
	if k.prefix == "" {
		return k.table
	}
	return k.prefix + ":" + k.table
}

type request struct {
	Request
	id     string
	seq    uint64
	key    channelKey
	bound  bool
	failed bool
}

type handler struct {
	id       string
	priority int
	seq      uint64
	onChange func(domain.ChangeEvent)
}

type channel struct {
	key      channelKey
	sub      domain.ChangeSubscription
	refs     map[string]*request
	handlers atomic.Pointer[[]handler]
	stop     chan struct{}
}

// coordinatorCmd is the command interface for the Coordinator actor.
type coordinatorCmd interface{ isCoordinatorCmd() }

type baseCoordinatorCmd struct{}

func (baseCoordinatorCmd) isCoordinatorCmd() {}

type addCmd struct {
	baseCoordinatorCmd
	id      string
	request Request
	reply   chan struct{}
}

type removeCmd struct {
	baseCoordinatorCmd
	id    string
	reply chan bool
}

type statusCmd struct {
	baseCoordinatorCmd
	reply chan QueueStatus
}

type channelLostCmd struct {
	baseCoordinatorCmd
	key channelKey
	sub domain.ChangeSubscription
}

type channelOpenedCmd struct {
	baseCoordinatorCmd
	key channelKey
	sub domain.ChangeSubscription
}

type channelFailedCmd struct {
	baseCoordinatorCmd
	key channelKey
	err error
}

type stopCmd struct {
	baseCoordinatorCmd
}

// Coordinator multiplexes subscription requests onto a bounded set of
// realtime channels. All state is owned by a single goroutine; callers talk
// to it through a command channel.
type Coordinator struct {
	cmdCh       chan coordinatorCmd
	feed        domain.ChangeFeed
	clock       clockwork.Clock
	maxChannels int
	done        chan struct{}
	stopped     atomic.Bool

	// ctx bounds in-flight subscribes and is cancelled on stop.
	ctx    context.Context
	cancel context.CancelFunc

	// actor-owned
	nextSeq  uint64
	requests map[string]*request
	channels map[channelKey]*channel
	opening  map[channelKey]struct{}
	pending  []*request
}

// NewCoordinator starts a coordinator that opens at most maxChannels
// channels on feed at a time.
func NewCoordinator(feed domain.ChangeFeed, clock clockwork.Clock, maxChannels int) *Coordinator {
	c := newCoordinator(feed, clock, maxChannels)
	go c.run()
	return c
}

func newCoordinator(feed domain.ChangeFeed, clock clockwork.Clock, maxChannels int) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cmdCh:       make(chan coordinatorCmd, commandBuffer),
		feed:        feed,
		clock:       clock,
		maxChannels: max(maxChannels, 1),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		requests:    make(map[string]*request),
		channels:    make(map[channelKey]*channel),
		opening:     make(map[channelKey]struct{}),
	}
}

// AddSubscriptionRequest registers interest and returns an opaque id for
// later removal. The request is bound as soon as a channel for its key is
// open. A new channel is opened in the background when a slot is free;
// otherwise the request waits in the queue.
//
// If the actor does not acknowledge in time the request is withdrawn, so an
// error always means nothing stays registered.
func (c *Coordinator) AddSubscriptionRequest(req Request) (string, error) {
	if req.Table == "" {
		return "", errors.New("subscription request requires a table")
	}
	if req.OnChange == nil {
		return "", errors.New("subscription request requires an OnChange callback")
	}

	id := uuid.NewString()
	reply := make(chan struct{}, 1)
	if err := c.send(addCmd{id: id, request: req, reply: reply}); err != nil {
		return "", err
	}
	if _, err := await(c, reply, "add"); err != nil {
		// Commands are handled in order, so this runs after the add.
		_ = c.send(removeCmd{id: id, reply: make(chan bool, 1)})
		return "", err
	}
	return id, nil
}

// RemoveSubscriptionRequest unregisters a request. The underlying channel is
// closed once no request references it. Unknown ids are ignored.
func (c *Coordinator) RemoveSubscriptionRequest(id string) {
	reply := make(chan bool, 1)
	if err := c.send(removeCmd{id: id, reply: reply}); err != nil {
		return
	}
	if _, err := await(c, reply, "remove"); err != nil {
		slog.Warn("Coordinator remove did not complete", "request_id", id, "error", err)
	}
}

// QueueStatus returns counts and open channels. It has no side effects.
func (c *Coordinator) QueueStatus() (QueueStatus, error) {
	reply := make(chan QueueStatus, 1)
	if err := c.send(statusCmd{reply: reply}); err != nil {
		return QueueStatus{}, err
	}
	return await(c, reply, "status")
}

// Stop closes every channel and shuts down the actor. Blocks until the actor
// exited or the stop timeout passed.
func (c *Coordinator) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.cmdCh <- stopCmd{}:
	case <-c.done:
		return
	}

	timeout := c.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-c.done:
		slog.Info("Coordinator stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Coordinator stop timeout exceeded", "timeout", stopTimeout)
		metrics.CoordinatorStopTimeoutsTotal.Inc()
	}
}

func (c *Coordinator) send(cmd coordinatorCmd) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	select {
	case c.cmdCh <- cmd:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

func await[T any](c *Coordinator, reply <-chan T, op string) (T, error) {
	timer := c.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return zero, ErrStopped
	case <-timer.Chan():
		return zero, fmt.Errorf("%s command timed out after %v", op, commandTimeout)
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Coordinator panic recovered", "panic", r)
			c.cancel()
			c.closeAllChannels()
		}
	}()

	depthTicker := c.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(c.cmdCh)
			metrics.CoordinatorCommandChannelDepth.Set(float64(depth))
			if depth > commandBuffer*4/5 {
				slog.Warn("Coordinator command channel near capacity", "depth", depth, "capacity", cap(c.cmdCh))
			}

		case cmd := <-c.cmdCh:
			switch cm := cmd.(type) {
			case addCmd:
				c.handleAdd(cm.id, cm.request)
				cm.reply <- struct{}{}
			case removeCmd:
				cm.reply <- c.handleRemove(cm.id)
			case statusCmd:
				cm.reply <- c.status()
			case channelOpenedCmd:
				c.handleChannelOpened(cm)
			case channelFailedCmd:
				c.handleChannelFailed(cm)
			case channelLostCmd:
				c.handleChannelLost(cm)
			case stopCmd:
				c.handleStop()
				return
			default:
				slog.Warn("Coordinator received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (c *Coordinator) handleAdd(id string, req Request) {
	c.nextSeq++
	r := &request{
		Request: req,
		id:      id,
		seq:     c.nextSeq,
		key:     channelKey{table: req.Table, prefix: req.ChannelPrefix},
	}
	c.requests[r.id] = r
	c.enqueue(r)

	slog.Debug("Subscription request added", "request_id", r.id, "channel", r.key.name(), "priority", r.Priority)
	c.processPending()
}

func (c *Coordinator) handleRemove(id string) bool {
	r, ok := c.requests[id]
	if !ok {
		return false
	}
	delete(c.requests, id)

	if !r.bound {
		c.dequeue(r)
		c.updateMetrics()
		slog.Debug("Pending subscription request removed", "request_id", id)
		return true
	}

	ch := c.channels[r.key]
	if ch != nil {
		delete(ch.refs, id)
		if len(ch.refs) == 0 {
			c.closeChannel(ch)
			slog.Info("Last subscriber removed, channel closed", "channel", r.key.name())
		} else {
			c.publishHandlers(ch)
		}
	}

	c.processPending()
	return true
}

// processPending binds queued requests in priority order and starts opening
// channels while slots are free. Requests whose subscribe failed stay queued
// without being retried.
func (c *Coordinator) processPending() {
	for _, r := range slices.Clone(c.pending) {
		if r.failed || r.bound {
			continue
		}
		if _, ok := c.requests[r.id]; !ok {
			continue
		}

		if ch, ok := c.channels[r.key]; ok {
			c.bind(ch, r)
			continue
		}
		if _, ok := c.opening[r.key]; ok {
			continue
		}
		if len(c.channels)+len(c.opening) >= c.maxChannels {
			continue
		}

		c.opening[r.key] = struct{}{}
		go c.subscribe(r.key)
	}
	c.updateMetrics()
}

// subscribe performs the network handshake off the actor goroutine and
// reports the outcome back as a command.
func (c *Coordinator) subscribe(key channelKey) {
	ctx, cancel := context.WithTimeout(c.ctx, subscribeTimeout)
	defer cancel()

	var cmd coordinatorCmd
	sub, err := c.feed.Subscribe(ctx, key.name(), key.table)
	if err != nil {
		cmd = channelFailedCmd{key: key, err: fmt.Errorf("subscribe %s: %w", key.name(), err)}
	} else {
		cmd = channelOpenedCmd{key: key, sub: sub}
	}

	// The actor keeps draining until every open reported back, so this only
	// falls through after a panic.
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
		if sub != nil {
			_ = sub.Close()
		}
	}
}

func (c *Coordinator) handleChannelOpened(cm channelOpenedCmd) {
	delete(c.opening, cm.key)

	var waiting []*request
	for _, r := range c.pending {
		if r.key == cm.key && !r.bound {
			waiting = append(waiting, r)
		}
	}
	if len(waiting) == 0 {
		if err := cm.sub.Close(); err != nil {
			slog.Warn("Closing unused realtime channel failed", "channel", cm.key.name(), "error", err)
		}
		slog.Debug("Realtime channel opened after its requests left", "channel", cm.key.name())
		c.processPending()
		return
	}

	ch := &channel{
		key:  cm.key,
		sub:  cm.sub,
		refs: make(map[string]*request),
		stop: make(chan struct{}),
	}
	empty := []handler{}
	ch.handlers.Store(&empty)
	c.channels[cm.key] = ch
	go c.pump(ch)

	// Bind everyone waiting on this key, failed ones included.
	for _, r := range waiting {
		c.bind(ch, r)
	}

	slog.Info("Realtime channel opened", "channel", cm.key.name(), "active_channels", len(c.channels))
	c.processPending()
}

func (c *Coordinator) handleChannelFailed(cm channelFailedCmd) {
	delete(c.opening, cm.key)
	metrics.CoordinatorSubscribeFailures.WithLabelValues(cm.key.table).Inc()

	for _, r := range slices.Clone(c.pending) {
		if r.key == cm.key && !r.bound && !r.failed {
			c.fail(r, cm.err)
		}
	}
	c.processPending()
}

func (c *Coordinator) closeChannel(ch *channel) {
	delete(c.channels, ch.key)
	close(ch.stop)
	if err := ch.sub.Close(); err != nil {
		slog.Warn("Closing realtime channel failed", "channel", ch.key.name(), "error", err)
	}
}

func (c *Coordinator) bind(ch *channel, r *request) {
	c.dequeue(r)
	r.bound = true
	r.failed = false
	ch.refs[r.id] = r
	c.publishHandlers(ch)
}

func (c *Coordinator) fail(r *request, err error) {
	r.failed = true
	slog.Warn("Subscription request left pending after subscribe failure",
		"request_id", r.id,
		"channel", r.key.name(),
		"error", err,
	)
	if r.OnError != nil {
		go r.OnError(err)
	}
}

func (c *Coordinator) handleChannelLost(cm channelLostCmd) {
	ch, ok := c.channels[cm.key]
	if !ok || ch.sub != cm.sub {
		return
	}

	slog.Warn("Realtime channel lost", "channel", cm.key.name(), "subscribers", len(ch.refs))
	c.closeChannel(ch)

	for _, r := range ch.refs {
		r.bound = false
		c.enqueue(r)
		c.fail(r, ErrChannelClosed)
	}
	c.processPending()
}

func (c *Coordinator) handleStop() {
	slog.Info("Coordinator shutting down", "channels", len(c.channels), "requests", len(c.requests))
	c.cancel()
	c.closeAllChannels()
	c.requests = make(map[string]*request)
	c.pending = nil
	c.drainOpening()
	c.updateMetrics()
}

// drainOpening waits for in-flight subscribes, which return promptly once
// ctx is cancelled, and closes any that still succeeded.
func (c *Coordinator) drainOpening() {
	for len(c.opening) > 0 {
		switch cm := (<-c.cmdCh).(type) {
		case channelOpenedCmd:
			delete(c.opening, cm.key)
			_ = cm.sub.Close()
		case channelFailedCmd:
			delete(c.opening, cm.key)
		}
	}
}

func (c *Coordinator) closeAllChannels() {
	for _, ch := range c.channels {
		c.closeChannel(ch)
	}
}

// enqueue inserts r keeping pending sorted by priority desc, then arrival.
func (c *Coordinator) enqueue(r *request) {
	i, _ := slices.BinarySearchFunc(c.pending, r, compareRequests)
	c.pending = slices.Insert(c.pending, i, r)
}

func (c *Coordinator) dequeue(r *request) {
	c.pending = slices.DeleteFunc(c.pending, func(p *request) bool { return p == r })
}

func compareRequests(a, b *request) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	default:
		return 0
	}
}

// publishHandlers swaps in a priority-ordered snapshot read by the pump.
func (c *Coordinator) publishHandlers(ch *channel) {
	hs := make([]handler, 0, len(ch.refs))
	for _, r := range ch.refs {
		hs = append(hs, handler{id: r.id, priority: r.Priority, seq: r.seq, onChange: r.OnChange})
	}
	slices.SortFunc(hs, func(a, b handler) int {
		if a.priority != b.priority {
			return b.priority - a.priority
		}
		return int(a.seq) - int(b.seq)
	})
	ch.handlers.Store(&hs)
}

func (c *Coordinator) status() QueueStatus {
	st := QueueStatus{
		ActiveChannels:  len(c.channels),
		OpeningChannels: len(c.opening),
		MaxChannels:     c.maxChannels,
		Channels:        make([]ChannelStatus, 0, len(c.channels)),
	}
	for _, r := range c.requests {
		switch {
		case r.bound:
			st.ActiveRequests++
		case r.failed:
			st.FailedRequests++
			st.PendingRequests++
		default:
			st.PendingRequests++
		}
	}
	for key, ch := range c.channels {
		st.Channels = append(st.Channels, ChannelStatus{
			Name:        key.name(),
			Table:       key.table,
			Prefix:      key.prefix,
			Subscribers: len(ch.refs),
		})
	}
	slices.SortFunc(st.Channels, func(a, b ChannelStatus) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return st
}

func (c *Coordinator) updateMetrics() {
	bound := 0
	for _, r := range c.requests {
		if r.bound {
			bound++
		}
	}
	metrics.CoordinatorRequestsActive.Set(float64(bound))
	metrics.CoordinatorRequestsPending.Set(float64(len(c.pending)))
	metrics.CoordinatorChannelsActive.Set(float64(len(c.channels)))
}

// pump fans out one channel's events to its handlers, one event at a time.
func (c *Coordinator) pump(ch *channel) {
	events := ch.sub.Events()
	for {
		select {
		case <-ch.stop:
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-ch.stop:
				default:
					_ = c.send(channelLostCmd{key: ch.key, sub: ch.sub})
				}
				return
			}
			c.dispatch(ch, ev)
		}
	}
}

func (c *Coordinator) dispatch(ch *channel, ev domain.ChangeEvent) {
	for _, h := range *ch.handlers.Load() {
		select {
		case <-ch.stop:
			return
		default:
		}
		invoke(ch.key, h, ev)
	}
}

func invoke(key channelKey, h handler, ev domain.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CoordinatorCallbackPanicsTotal.Inc()
			slog.Error("Change callback panicked", "channel", key.name(), "request_id", h.id, "panic", r)
		}
	}()
	metrics.CoordinatorCallbacksTotal.WithLabelValues(key.table).Inc()
	h.onChange(ev)
}
