package calls

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshInterval is how often the displayed duration of an active call is
// recomputed.
const RefreshInterval = time.Second

// TickerFunc starts a periodic tick source. The returned stop function must
// release it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTelephony binds the collaborator at construction time.
func WithTelephony(t Telephony) Option {
	return func(a *Aggregator) { a.tel = t }
}

// WithClock overrides the wall clock used for call timing.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithTicker overrides the duration refresh tick source.
func WithTicker(t TickerFunc) Option {
	return func(a *Aggregator) { a.ticker = t }
}

// WithLogger sets the logger used for dispatch failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Aggregator derives the presentation State from the live call set and
// forwards user actions to the telephony collaborator.
//
// Run is the only writer of the state; readers get immutable copies.
type Aggregator struct {
	mu     sync.RWMutex
	tel    Telephony
	state  State
	audio  AudioState
	subs   map[int]chan State
	nextID int
	cancel context.CancelFunc
	closed bool

	rebind chan struct{}
	now    func() time.Time
	ticker TickerFunc
	logger *zap.Logger
}

// New returns an idle Aggregator. Telephony may be supplied now or later via Bind.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		state:  idleState(),
		subs:   make(map[int]chan State),
		rebind: make(chan struct{}, 1),
		now:    time.Now,
		ticker: realTicker,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bind attaches (or replaces) the telephony collaborator. A running loop
// re-seeds from the new collaborator.
func (a *Aggregator) Bind(t Telephony) {
	a.mu.Lock()
	a.tel = t
	a.mu.Unlock()

	select {
	case a.rebind <- struct{}{}:
	default:
	}
}

func (a *Aggregator) telephony() Telephony {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tel
}

// State returns the most recently derived state.
func (a *Aggregator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Subscribe returns a stream of states starting with the current one. Only
// the latest undelivered state is buffered. The returned function
// unsubscribes and closes the channel.
func (a *Aggregator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	ch <- a.state
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if sub, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(sub)
			}
		})
	}
}

// Run consumes collaborator notifications and refreshes the call duration
// until ctx is cancelled or Close is called.
func (a *Aggregator) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.cancel = cancel
	a.mu.Unlock()

	ticks, stop := a.ticker(RefreshInterval)
	defer stop()

	for {
		watchCtx, stopWatch := context.WithCancel(ctx)
		var (
			callsCh <-chan []Call
			audioCh <-chan AudioState
		)
		if tel := a.telephony(); tel != nil {
			// Watch before seeding so no snapshot published in between is lost.
			callsCh = tel.WatchCalls(watchCtx)
			audioCh = tel.WatchAudio(watchCtx)
			a.seed(tel)
		}

		rebound := a.loop(ctx, ticks, callsCh, audioCh)
		stopWatch()
		if !rebound {
			return
		}
	}
}

func (a *Aggregator) loop(ctx context.Context, ticks <-chan time.Time, callsCh <-chan []Call, audioCh <-chan AudioState) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.rebind:
			return true
		case snapshot, ok := <-callsCh:
			if !ok {
				callsCh = nil
				continue
			}
			a.applyCalls(snapshot)
		case audio, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			a.applyAudio(audio)
		case <-ticks:
			a.refresh()
		}
	}
}

// Close stops a running loop and closes all subscriptions. It is safe to
// call more than once.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

func (a *Aggregator) seed(tel Telephony) {
	audio, ok := tel.CurrentAudioState()
	if !ok {
		audio = AudioState{Route: RouteEarpiece}
	}
	a.mu.Lock()
	a.audio = audio
	a.mu.Unlock()
	a.applyCalls(tel.CurrentCalls())
}

func (a *Aggregator) applyCalls(snapshot []Call) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := derive(a.state, snapshot, a.audio, a.now())
	a.setLocked(next)
}

func (a *Aggregator) applyAudio(audio AudioState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = audio
	next := a.state
	next.Route = audio.Route
	a.setLocked(next)
}

// refresh recomputes the duration of an active call. The result is only
// applied if the call it was computed for is still the active one.
func (a *Aggregator) refresh() {
	current := a.State()
	start, ok := current.CallStart()
	if !ok || current.Classification != Active {
		return
	}
	duration := FormatDuration(a.now().Sub(start))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Classification != Active || !a.state.startedAt.Equal(start) {
		return
	}
	if a.state.Duration == duration {
		return
	}
	next := a.state
	next.Duration = duration
	a.setLocked(next)
}

func (a *Aggregator) setLocked(next State) {
	if a.closed {
		return
	}
	a.state = next
	for _, ch := range a.subs {
		offerLatest(ch, next)
	}
}
