package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

// SessionState is the submission state machine of one customization
// session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateEditing    SessionState = "editing"
	StateValidating SessionState = "validating"
	StateBlocked    SessionState = "blocked"
	StateReady      SessionState = "ready"
	StateSubmitting SessionState = "submitting"
	StateSubmitted  SessionState = "submitted"
)

// CustomizationSession is one shopper's pass over one design. It owns
// the in-memory document for the customer side: the document is only
// read, never structurally changed, and all entered values live here.
//
// The channel trio and Run loop fan live state updates out to
// connected preview clients.
type CustomizationSession struct {
	ID       string
	DesignID string

	mu              sync.Mutex
	doc             *scene.Document
	fields          []fields.Descriptor
	values          map[int]personalization.Value
	state           SessionState
	uploadsInFlight int
	payload         *personalization.Payload
	lastActive      time.Time

	// renderGen orders preview renders; only the newest render of a
	// session is delivered, older in-flight ones are superseded.
	renderGen atomic.Int64

	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

func newCustomizationSession(id, designID string, doc *scene.Document, fds []fields.Descriptor) *CustomizationSession {
	return &CustomizationSession{
		ID:         id,
		DesignID:   designID,
		doc:        doc,
		fields:     fds,
		values:     make(map[int]personalization.Value),
		state:      StateIdle,
		lastActive: time.Now(),
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
	}
}

// Run pumps client registration and broadcast messages for the live
// preview. One goroutine per session, started when the session is
// created; it exits when Stop is called and drops every connected
// client on the way out.
func (s *CustomizationSession) Run() {
	defer func() {
		for client := range s.Clients {
			close(client.Send)
			delete(s.Clients, client)
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case client := <-s.Register:
			s.Clients[client] = true
		case client := <-s.Unregister:
			if _, ok := s.Clients[client]; ok {
				delete(s.Clients, client)
				close(client.Send)
			}
		case message := <-s.Broadcast:
			for client := range s.Clients {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(s.Clients, client)
				}
			}
		}
	}
}

// Stop ends the Run loop. Safe to call more than once.
func (s *CustomizationSession) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// AddClient hands a new preview client to the hub. A stopped hub
// refuses it; the caller's websocket then just closes.
func (s *CustomizationSession) AddClient(c *Client) {
	select {
	case s.Register <- c:
	case <-s.done:
	}
}

// RemoveClient detaches a preview client, tolerating a hub that has
// already stopped.
func (s *CustomizationSession) RemoveClient(c *Client) {
	select {
	case s.Unregister <- c:
	case <-s.done:
	}
}

func (s *CustomizationSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *CustomizationSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// BeginRender claims a new render generation.
func (s *CustomizationSession) BeginRender() int64 {
	return s.renderGen.Add(1)
}

// CurrentRender reports whether gen is still the newest claimed
// render generation.
func (s *CustomizationSession) CurrentRender(gen int64) bool {
	return s.renderGen.Load() == gen
}

// RenderState returns the document copy and values a render pass
// needs, without holding the session lock during rendering.
func (s *CustomizationSession) RenderState() (*scene.Document, map[int]personalization.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make(map[int]personalization.Value, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return s.doc.Clone(), values
}

// SessionSnapshot is the handler-facing view of a session.
type SessionSnapshot struct {
	ID               string                        `json:"id"`
	DesignID         string                        `json:"design_id"`
	State            SessionState                  `json:"state"`
	Fields           []fields.Descriptor           `json:"fields"`
	Values           map[int]personalization.Value `json:"values"`
	UploadsInFlight  int                           `json:"uploads_in_flight"`
	Validation       ValidationResult              `json:"validation"`
	SubmitEnabled    bool                          `json:"submit_enabled"`
	RenderGeneration int64                         `json:"render_generation"`
}

func (s *CustomizationSession) snapshotLocked() SessionSnapshot {
	values := make(map[int]personalization.Value, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	validation := Validate(s.fields, s.values)
	return SessionSnapshot{
		ID:               s.ID,
		DesignID:         s.DesignID,
		State:            s.state,
		Fields:           s.fields,
		Values:           values,
		UploadsInFlight:  s.uploadsInFlight,
		Validation:       validation,
		SubmitEnabled:    validation.AllFilled && s.uploadsInFlight == 0,
		RenderGeneration: s.renderGen.Load(),
	}
}

// Snapshot returns a consistent copy of the session's current state.
func (s *CustomizationSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}
