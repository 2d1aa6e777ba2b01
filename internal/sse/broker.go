// Package sse streams note changes, sync state transitions and user-facing
// notifications to browser clients as Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/starford/gitnote/internal/models"
	"github.com/starford/gitnote/internal/notesync"
)

// Event types sent to clients.
const (
	EventNoteCreated    = "note.created"
	EventNoteUpdated    = "note.updated"
	EventNoteDeleted    = "note.deleted"
	EventFoldersUpdated = "folders.updated"
	EventSyncState      = "sync.state"
	EventNotification   = "notification"
)

var noteEventTypes = map[string]string{
	"created": EventNoteCreated,
	"updated": EventNoteUpdated,
	"deleted": EventNoteDeleted,
}

// Event is one message for every connected client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Options tunes event coalescing.
type Options struct {
	// FoldersWindow collects the folders touched by note events and reports
	// them in one folders.updated event at the end of the window.
	FoldersWindow time.Duration
	// SyncWindow bounds how often sync.state is sent. The first state of a
	// burst goes out at once, the last one when the window closes, and the
	// ones in between are dropped.
	SyncWindow time.Duration
	// KeepAlive is the interval of comment frames on idle streams.
	KeepAlive time.Duration
}

func (o *Options) defaults() {
	if o.FoldersWindow <= 0 {
		o.FoldersWindow = 2 * time.Second
	}
	if o.SyncWindow <= 0 {
		o.SyncWindow = 250 * time.Millisecond
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
}

type noteChange struct {
	kind string
	path string
}

// Broker fans events out to SSE clients. One goroutine owns the client set,
// the last sync state and both coalescing windows; the public methods talk
// to it over channels.
type Broker struct {
	opts Options

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteCh        chan noteChange
	syncCh        chan notesync.SyncState
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker.
func NewBroker(opts Options) *Broker {
	opts.defaults()
	b := &Broker{
		opts:          opts,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteCh:        make(chan noteChange, 256),
		syncCh:        make(chan notesync.SyncState),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

// loop is the state owned by the run goroutine.
type loop struct {
	clients map[chan []byte]struct{}
	seq     uint64

	lastSync    []byte
	lastState   notesync.SyncState
	pendingSync *notesync.SyncState
	syncWindow  <-chan time.Time

	dirty         map[string]struct{}
	foldersWindow <-chan time.Time
}

func (l *loop) frame(event Event) []byte {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil
	}
	l.seq++
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", l.seq, event.Type, payload))
}

func (l *loop) send(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
	default:
		// Slow client; the frame is lost for it only.
	}
}

func (l *loop) broadcast(event Event) []byte {
	raw := l.frame(event)
	if raw == nil {
		return nil
	}
	for ch := range l.clients {
		l.send(ch, raw)
	}
	return raw
}

func (l *loop) emitSync(s notesync.SyncState) {
	l.lastState = s
	l.lastSync = l.broadcast(Event{Type: EventSyncState, Data: s})
}

func (b *Broker) run() {
	defer close(b.stopped)

	l := &loop{
		clients: make(map[chan []byte]struct{}),
		dirty:   make(map[string]struct{}),
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range l.clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			l.clients[ch] = struct{}{}
			if l.lastSync != nil {
				l.send(ch, l.lastSync)
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := l.clients[ch]; ok {
				delete(l.clients, ch)
				close(ch)
			}

		case resp := <-b.countReqCh:
			resp <- len(l.clients)

		case event := <-b.publishCh:
			l.broadcast(event)

		case c := <-b.noteCh:
			typ, ok := noteEventTypes[c.kind]
			if !ok {
				continue
			}
			folder := models.ParentPath(c.path)
			l.broadcast(Event{Type: typ, Data: map[string]string{"path": c.path, "folder": folder}})
			l.dirty[folder] = struct{}{}
			if l.foldersWindow == nil {
				l.foldersWindow = time.After(b.opts.FoldersWindow)
			}

		case <-l.foldersWindow:
			folders := make([]string, 0, len(l.dirty))
			for f := range l.dirty {
				folders = append(folders, f)
			}
			sort.Strings(folders)
			l.broadcast(Event{Type: EventFoldersUpdated, Data: map[string][]string{"folders": folders}})
			clear(l.dirty)
			l.foldersWindow = nil

		case s := <-b.syncCh:
			if l.syncWindow != nil {
				l.pendingSync = &s
				continue
			}
			l.emitSync(s)
			l.syncWindow = time.After(b.opts.SyncWindow)

		case <-l.syncWindow:
			l.syncWindow = nil
			if p := l.pendingSync; p != nil {
				l.pendingSync = nil
				if *p != l.lastState {
					l.emitSync(*p)
					l.syncWindow = time.After(b.opts.SyncWindow)
				}
			}
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. A client joining after the first sync state
// receives the latest one straight away.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients as is.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent sends note.created, note.updated or note.deleted and marks
// the note's folder for the next folders.updated. Its signature matches
// noteservice.EventFunc.
func (b *Broker) PublishNoteEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteCh <- noteChange{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// PublishSyncState hands s to the sync.state window.
func (b *Broker) PublishSyncState(s notesync.SyncState) {
	if b.closed.Load() {
		return
	}
	select {
	case b.syncCh <- s:
	case <-b.stopped:
	}
}

// Notify implements notesync.Notifier. The message is dropped when the
// queue is full.
func (b *Broker) Notify(message string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- Event{Type: EventNotification, Data: map[string]string{"message": message}}:
	default:
	}
}

// ForwardSyncState publishes every state received on states until ctx is
// done or states is closed.
func (b *Broker) ForwardSyncState(ctx context.Context, states <-chan notesync.SyncState) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			b.PublishSyncState(s)
		}
	}
}

// ServeHTTP streams events until the client goes away (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Clients wait this long before reconnecting.
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.opts.KeepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
