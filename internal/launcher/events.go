package launcher

import (
	"time"
)

// ExitEvent is published once per terminated child.
type ExitEvent struct {
	EntryID  string    `json:"entry_id"`
	PID      int       `json:"pid"`
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	ExitedAt time.Time `json:"exited_at"`
}

// Observer receives exit notifications. HandleExit runs on the reconciling
// goroutine and should return quickly.
type Observer interface {
	HandleExit(ExitEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ExitEvent)

func (f ObserverFunc) HandleExit(e ExitEvent) { f(e) }

type subscription struct {
	id  uint64
	obs Observer
}

// Subscribe registers o for exit events and returns a function removing it.
// Observers are notified in subscription order.
func (l *Launcher) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}
	l.obsMu.Lock()
	l.nextSub++
	id := l.nextSub
	l.observers = append(l.observers, subscription{id: id, obs: o})
	l.obsMu.Unlock()
	return func() {
		l.obsMu.Lock()
		defer l.obsMu.Unlock()
		for i, s := range l.observers {
			if s.id == id {
				l.observers = append(l.observers[:i:i], l.observers[i+1:]...)
				return
			}
		}
	}
}

func (l *Launcher) publish(e ExitEvent) {
	l.obsMu.Lock()
	subs := append([]subscription(nil), l.observers...)
	l.obsMu.Unlock()
	for _, s := range subs {
		l.notify(s.obs, e)
	}
}

func (l *Launcher) notify(o Observer, e ExitEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("exit observer panicked", "entry", e.EntryID, "panic", r)
		}
	}()
	o.HandleExit(e)
}
