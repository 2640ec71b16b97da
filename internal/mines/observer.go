package mines

import "sync"

// Observer receives engine notifications. Calls arrive synchronously, in
// order, before the engine call that caused them returns. The engine lock is
// not held, so observers may read engine state.
type Observer interface {
	RoundStarted(RoundInfo)
	CellRevealed(Reveal)
	RewardChanged(RewardUpdate)
	RoundEnded(RoundResult)
	RoundReset(ResetInfo)
}

// NopObserver implements Observer with no-ops; embed it to handle a subset.
type NopObserver struct{}

func (NopObserver) RoundStarted(RoundInfo)     {}
func (NopObserver) CellRevealed(Reveal)        {}
func (NopObserver) RewardChanged(RewardUpdate) {}
func (NopObserver) RoundEnded(RoundResult)     {}
func (NopObserver) RoundReset(ResetInfo)       {}

// EventKind names a notification in the flattened event stream.
type EventKind string

const (
	EventRoundStarted  EventKind = "round_started"
	EventCellRevealed  EventKind = "cell_revealed"
	EventRewardChanged EventKind = "reward_changed"
	EventRoundEnded    EventKind = "round_ended"
	EventRoundReset    EventKind = "round_reset"
)

// Event is a single notification with exactly one payload set.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Started *RoundInfo    `json:"started,omitempty"`
	Reveal  *Reveal       `json:"reveal,omitempty"`
	Reward  *RewardUpdate `json:"reward,omitempty"`
	Result  *RoundResult  `json:"result,omitempty"`
	Reset   *ResetInfo    `json:"reset,omitempty"`
}

// Forward adapts fn to the Observer interface, for transports that ship
// events rather than method calls.
func Forward(fn func(Event)) Observer {
	return forwarder(fn)
}

type forwarder func(Event)

func (f forwarder) RoundStarted(v RoundInfo) { f(Event{Kind: EventRoundStarted, Started: &v}) }
func (f forwarder) CellRevealed(v Reveal)    { f(Event{Kind: EventCellRevealed, Reveal: &v}) }
func (f forwarder) RewardChanged(v RewardUpdate) {
	f(Event{Kind: EventRewardChanged, Reward: &v})
}
func (f forwarder) RoundEnded(v RoundResult) { f(Event{Kind: EventRoundEnded, Result: &v}) }
func (f forwarder) RoundReset(v ResetInfo)   { f(Event{Kind: EventRoundReset, Reset: &v}) }

type subscribers struct {
	mu     sync.RWMutex
	nextID int
	list   []subscriber
}

type subscriber struct {
	id  int
	obs Observer
}

func (s *subscribers) add(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.list = append(s.list, subscriber{id: id, obs: o})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers) snapshot() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Observer, len(s.list))
	for i, sub := range s.list {
		out[i] = sub.obs
	}
	return out
}

// dispatch delivers events to every subscriber in subscription order.
func (s *subscribers) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	obs := s.snapshot()
	for _, ev := range events {
		for _, o := range obs {
			deliver(o, ev)
		}
	}
}

func deliver(o Observer, ev Event) {
	switch ev.Kind {
	case EventRoundStarted:
		o.RoundStarted(*ev.Started)
	case EventCellRevealed:
		o.CellRevealed(*ev.Reveal)
	case EventRewardChanged:
		o.RewardChanged(*ev.Reward)
	case EventRoundEnded:
		o.RoundEnded(*ev.Result)
	case EventRoundReset:
		o.RoundReset(*ev.Reset)
	}
}
