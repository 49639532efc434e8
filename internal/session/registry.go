package session

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned for unknown, reset or expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRegistryClosed is returned once Close has been called.
	ErrRegistryClosed = errors.New("session registry closed")
)

// Eviction reasons passed to Options.OnEvict.
const (
	EvictCapacity = "capacity"
	EvictIdle     = "idle"
	EvictReset    = "reset"
)

// Options 会话注册表配置
// Options configures a Registry. Zero values select the defaults.
type Options struct {
	Capacity        int
	TTL             time.Duration
	JanitorInterval time.Duration
	MaxTurns        int
	SummaryRunes    int
	Now             func() time.Time
	Logger          *zap.Logger
	// OnEvict is called without the registry lock held.
	OnEvict func(reason string)
}

func (o *Options) normalize() {
	if o.Capacity <= 0 {
		o.Capacity = 1024
	}
	if o.TTL == 0 {
		o.TTL = 6 * time.Hour
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type entry struct {
	sess *Session
	// lock is a one-slot semaphore so acquiring can honour a context.
	lock chan struct{}
	// snapshot is the state published by the last Release, read by Get.
	snapshot Session
	elem     *list.Element
	holders  int
	lastUsed time.Time
	removed  bool
}

// Registry 进程内会话存储：按会话串行化访问，LRU 容量 + 空闲 TTL 淘汰
// Registry is the in-process session store. Access to one session is
// serialised through leases, and sessions are evicted least-recently-used
// beyond Capacity or after TTL of idleness. Sessions do not survive restarts.
type Registry struct {
	opts Options

	mu     sync.Mutex
	items  map[string]*entry
	lru    *list.List
	closed bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its janitor when TTL is positive.
// Call Close to stop it.
func NewRegistry(opts Options) *Registry {
	opts.normalize()
	r := &Registry{
		opts:  opts,
		items: make(map[string]*entry),
		lru:   list.New(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if opts.TTL > 0 {
		go r.janitor()
	} else {
		close(r.done)
	}
	return r
}

// Lease 对单个会话的独占访问权
// Lease grants exclusive access to one session until Release is called.
type Lease struct {
	Session *Session

	r    *Registry
	e    *entry
	once sync.Once
}

// Release returns the session to the registry and marks it as recently used.
func (l *Lease) Release() {
	l.once.Do(func() {
		now := l.r.opts.Now()
		l.Session.UpdatedAt = now
		snap := l.Session.Clone()
		<-l.e.lock
		l.r.mu.Lock()
		l.e.snapshot = snap
		l.e.holders--
		l.e.lastUsed = now
		if !l.e.removed {
			l.r.lru.MoveToFront(l.e.elem)
		}
		l.r.mu.Unlock()
	})
}

// Create 生成新会话（阶段 collecte、空记忆）并返回已持有的租约
// Create registers a fresh session in phase collecte with empty memory,
// summary and ledger, and returns it already leased.
func (r *Registry) Create(promptVersion string) (*Lease, error) {
	now := r.opts.Now()
	sess := newSession(uuid.NewString(), promptVersion, now, r.opts.MaxTurns, r.opts.SummaryRunes)
	e := &entry{sess: sess, snapshot: sess.Clone(), lock: make(chan struct{}, 1), holders: 1, lastUsed: now}
	e.lock <- struct{}{}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e.elem = r.lru.PushFront(e)
	r.items[sess.ID] = e
	evicted := r.evictOverflowLocked()
	r.mu.Unlock()

	r.notify(EvictCapacity, evicted)
	r.opts.Logger.Debug("session created", zap.String("session_id", sess.ID))
	return &Lease{Session: sess, r: r, e: e}, nil
}

// Acquire waits for exclusive access to the session id. It fails with
// ErrSessionNotFound when the session is unknown, expired or reset while
// waiting, and with ctx.Err() when ctx ends first.
func (r *Registry) Acquire(ctx context.Context, id string) (*Lease, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if r.expiredLocked(e, r.opts.Now()) {
		r.removeLocked(e)
		r.mu.Unlock()
		r.notify(EvictIdle, 1)
		return nil, ErrSessionNotFound
	}
	e.holders++
	r.lru.MoveToFront(e.elem)
	r.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		r.mu.Lock()
		e.holders--
		r.mu.Unlock()
		return nil, ctx.Err()
	}

	r.mu.Lock()
	removed := e.removed
	r.mu.Unlock()
	if removed {
		<-e.lock
		r.mu.Lock()
		e.holders--
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return &Lease{Session: e.sess, r: r, e: e}, nil
}

// Get 返回最近一次释放租约时发布的会话快照，不等待进行中的回合
// Get returns a copy of the session as published by its last released lease.
// It never waits for a turn in flight and does not count as use for LRU or
// idle expiry.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Session{}, ErrRegistryClosed
	}
	e, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	if r.expiredLocked(e, r.opts.Now()) {
		r.removeLocked(e)
		r.mu.Unlock()
		r.notify(EvictIdle, 1)
		return Session{}, ErrSessionNotFound
	}
	snap := e.snapshot
	r.mu.Unlock()
	return snap.Clone(), nil
}

// Reset removes a session. A turn already holding its lease finishes against
// the detached record.
func (r *Registry) Reset(id string) error {
	r.mu.Lock()
	e, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	r.removeLocked(e)
	r.mu.Unlock()
	r.notify(EvictReset, 1)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Close stops the janitor. Further Create and Acquire calls fail.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.stop)
	})
	<-r.done
	return nil
}

// Sweep drops sessions idle for longer than TTL and returns how many went.
func (r *Registry) Sweep() int {
	now := r.opts.Now()
	r.mu.Lock()
	n := 0
	for el := r.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if r.expiredLocked(e, now) {
			r.removeLocked(e)
			n++
		}
		el = prev
	}
	r.mu.Unlock()
	r.notify(EvictIdle, n)
	return n
}

func (r *Registry) janitor() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.opts.Logger.Info("idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) expiredLocked(e *entry, now time.Time) bool {
	return r.opts.TTL > 0 && e.holders == 0 && now.Sub(e.lastUsed) > r.opts.TTL
}

// evictOverflowLocked drops least-recently-used sessions that nobody holds
// until the registry fits its capacity.
func (r *Registry) evictOverflowLocked() int {
	n := 0
	for el := r.lru.Back(); el != nil && len(r.items) > r.opts.Capacity; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.holders == 0 {
			r.removeLocked(e)
			n++
		}
		el = prev
	}
	return n
}

func (r *Registry) removeLocked(e *entry) {
	if e.removed {
		return
	}
	e.removed = true
	r.lru.Remove(e.elem)
	delete(r.items, e.sess.ID)
}

func (r *Registry) notify(reason string, n int) {
	if r.opts.OnEvict == nil {
		return
	}
	for i := 0; i < n; i++ {
		r.opts.OnEvict(reason)
	}
}
