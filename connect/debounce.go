package connect

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

func DefaultDebouncerSettings() *DebouncerSettings {
	return &DebouncerSettings{
		Delay: 500 * time.Millisecond,
	}
}

type DebouncerSettings struct {
	// quiet period before the latest intent becomes effective
	Delay time.Duration
}

// emitted instead of a query when the intent reduces to empty
type ClearFunction = func(version uint64)

// coalesces a rapid sequence of intents into at most one effective intent
// per quiet period. Every result produced downstream must be tagged with the
// version handed to the emit callback and checked with `IsCurrent` on
// arrival; a response for a superseded intent is a no-op.
type Debouncer[T comparable] struct {
	settings *DebouncerSettings

	isEmpty func(intent T) bool
	emit    func(intent T, version uint64)
	clear   ClearFunction

	stateLock sync.Mutex
	version   uint64
	timer     *time.Timer
}

func NewDebouncer[T comparable](
	settings *DebouncerSettings,
	isEmpty func(intent T) bool,
	emit func(intent T, version uint64),
	clear ClearFunction,
) *Debouncer[T] {
	return &Debouncer[T]{
		settings: settings,
		isEmpty:  isEmpty,
		emit:     emit,
		clear:    clear,
	}
}

// records the latest intent and restarts the quiet-period timer.
// a previously pending emission is cancelled, never fired late.
func (self *Debouncer[T]) Schedule(intent T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.version += 1
	version := self.version

	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}

	self.timer = time.AfterFunc(self.settings.Delay, func() {
		self.fire(intent, version)
	})
}

func (self *Debouncer[T]) fire(intent T, version uint64) {
	self.stateLock.Lock()
	current := self.version == version
	self.stateLock.Unlock()

	if !current {
		// superseded while the timer callback was pending
		glog.V(2).Infof("[debounce]suppress superseded intent v%d\n", version)
		return
	}

	if self.isEmpty != nil && self.isEmpty(intent) {
		if self.clear != nil {
			self.clear(version)
		}
		return
	}
	if self.emit != nil {
		self.emit(intent, version)
	}
}

// stale-response suppression: apply an asynchronous result only if the
// version that produced it is still the latest scheduled intent
func (self *Debouncer[T]) IsCurrent(version uint64) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.version == version
}

func (self *Debouncer[T]) CurrentVersion() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.version
}

// cancels any pending emission. Results already in flight are discarded on
// arrival by the version check.
func (self *Debouncer[T]) Stop() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.version += 1
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}
