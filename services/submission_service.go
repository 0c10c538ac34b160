package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
)

var (
	ErrSessionNotFound  = errors.New("customization session not found")
	ErrUploadsInFlight  = errors.New("image uploads are still in progress, please wait before adding to cart")
	ErrNotSubmitted     = errors.New("session has not been submitted")
	ErrFieldNotEditable = errors.New("no editable field at that index")
)

// MissingFieldError reports the first unmet required field, in index
// order, so the shopper gets stable feedback.
type MissingFieldError struct {
	Label string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("required field %q is not filled in", e.Label)
}

// ValidationResult is the outcome of a completeness check.
type ValidationResult struct {
	AllFilled         bool   `json:"allFilled"`
	FirstMissingLabel string `json:"firstMissingLabel,omitempty"`
}

// Validate checks every required field in index order. Non-required
// fields always count as filled. A field list with no required entries
// validates trivially, including the empty list of a design that never
// loaded; submission is then permitted by design.
func Validate(fds []fields.Descriptor, values map[int]personalization.Value) ValidationResult {
	for _, fd := range fds {
		if !fd.Required {
			continue
		}
		if !values[fd.Index].Filled(fd.Kind) {
			return ValidationResult{AllFilled: false, FirstMissingLabel: fd.Label}
		}
	}
	return ValidationResult{AllFilled: true}
}

// sessionTTL is how long an untouched session is kept. Shoppers who
// abandon the page never say goodbye, so the idle sweep is the only
// teardown they get.
const sessionTTL = 30 * time.Minute

// CheckoutForm is the external checkout collaborator: one writable
// payload field and one submit affordance per session. The assembler
// never performs submission I/O itself.
type CheckoutForm interface {
	WritePayload(sessionID string, serialized []byte)
	SetSubmitEnabled(sessionID string, enabled bool)
	Forget(sessionID string)
}

// CheckoutRecorder is the in-process CheckoutForm handed to the HTTP
// layer: it remembers what the assembler last wrote so the host page
// can read it back.
type CheckoutRecorder struct {
	mu       sync.Mutex
	payloads map[string][]byte
	enabled  map[string]bool
}

func NewCheckoutRecorder() *CheckoutRecorder {
	return &CheckoutRecorder{
		payloads: make(map[string][]byte),
		enabled:  make(map[string]bool),
	}
}

func (r *CheckoutRecorder) WritePayload(sessionID string, serialized []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads[sessionID] = serialized
}

func (r *CheckoutRecorder) SetSubmitEnabled(sessionID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[sessionID] = enabled
}

// Read returns the last written payload and submit state for a session.
func (r *CheckoutRecorder) Read(sessionID string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[sessionID], r.enabled[sessionID]
}

// Forget clears the form entries of a session that has ended.
func (r *CheckoutRecorder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.payloads, sessionID)
	delete(r.enabled, sessionID)
}

// SubmissionService owns customization sessions: it creates them from
// stored designs, tracks entered values and in-flight uploads, and
// gates submission to the checkout collaborator.
type SubmissionService struct {
	store    store.DocumentStore
	checkout CheckoutForm

	mu       sync.Mutex
	sessions map[string]*CustomizationSession
}

func NewSubmissionService(docStore store.DocumentStore, checkout CheckoutForm) *SubmissionService {
	return &SubmissionService{
		store:    docStore,
		checkout: checkout,
		sessions: make(map[string]*CustomizationSession),
	}
}

// StartSession creates a session for designID. A missing or malformed
// design is not fatal: the session starts with zero fields and an
// empty preview, and validation passes trivially.
func (s *SubmissionService) StartSession(ctx context.Context, designID string) (SessionSnapshot, error) {
	doc, err := s.store.FetchDocument(ctx, designID)
	if err != nil {
		log.Printf("Design %s unavailable, starting empty session: %v", designID, err)
		doc = nil
	}

	sess := newCustomizationSession(uuid.NewString(), designID, doc, fields.Synthesize(doc))
	go sess.Run()

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.Snapshot(), nil
}

// Session looks up a live session by ID. Every lookup counts as
// activity for the idle sweep.
func (s *SubmissionService) Session(id string) (*CustomizationSession, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

// EndSession removes a session: the live hub stops, its clients are
// dropped and the checkout form is cleared. Called when the shopper
// leaves the page or the fulfillment consumer is done with a submitted
// session.
func (s *SubmissionService) EndSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.Stop()
	s.checkout.Forget(id)
	return nil
}

// CleanupSessions sweeps idle sessions forever. Run it in a goroutine
// at startup.
func (s *SubmissionService) CleanupSessions() {
	for {
		time.Sleep(time.Minute)
		s.removeIdleSessions(time.Now())
	}
}

func (s *SubmissionService) removeIdleSessions(now time.Time) {
	s.mu.Lock()
	var expired []*CustomizationSession
	for id, sess := range s.sessions {
		if now.Sub(sess.idleSince()) > sessionTTL {
			delete(s.sessions, id)
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Stop()
		s.checkout.Forget(sess.ID)
		log.Printf("Session %s: removed after idle timeout", sess.ID)
	}
}

// SetFieldValue stores one entered value. The index must name an
// editable field of the design; text longer than the field's maxLength
// is truncated rather than rejected.
func (s *SubmissionService) SetFieldValue(id string, index int, value personalization.Value) (SessionSnapshot, error) {
	sess, ok := s.Session(id)
	if !ok {
		return SessionSnapshot{}, ErrSessionNotFound
	}

	sess.mu.Lock()
	fd, ok := descriptorAt(sess.fields, index)
	if !ok {
		sess.mu.Unlock()
		return SessionSnapshot{}, ErrFieldNotEditable
	}
	if fd.MaxLength > 0 {
		if runes := []rune(value.Text); len(runes) > fd.MaxLength {
			value.Text = string(runes[:fd.MaxLength])
		}
	}
	sess.values[index] = value
	sess.state = StateEditing
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.afterChange(sess, snap)
	return snap, nil
}

// BeginUpload marks one image upload as in flight; submission stays
// blocked until the matching completion or failure arrives.
func (s *SubmissionService) BeginUpload(id string) error {
	sess, ok := s.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.uploadsInFlight++
	sess.state = StateEditing
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.afterChange(sess, snap)
	return nil
}

// CompleteUpload records the uploaded URL on the field and releases
// the upload gate.
func (s *SubmissionService) CompleteUpload(id string, index int, url string) error {
	sess, ok := s.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	s.decrementLocked(sess)
	if fd, ok := descriptorAt(sess.fields, index); ok && fd.Kind == scene.KindImagePlaceholder {
		sess.values[index] = personalization.Value{ImageURL: url}
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.afterChange(sess, snap)
	return nil
}

// FailUpload releases the upload gate without recording a value, so a
// transient upload failure can never block submission permanently.
func (s *SubmissionService) FailUpload(id string) error {
	sess, ok := s.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	s.decrementLocked(sess)
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.afterChange(sess, snap)
	return nil
}

func (s *SubmissionService) decrementLocked(sess *CustomizationSession) {
	if sess.uploadsInFlight > 0 {
		sess.uploadsInFlight--
		return
	}
	// every increment has a matching decrement; hitting this means an
	// accounting bug upstream, never a negative counter
	log.Printf("Session %s: upload counter underflow suppressed", sess.ID)
}

// ValidateSession runs the completeness check and moves the session to
// Ready or Blocked.
func (s *SubmissionService) ValidateSession(id string) (ValidationResult, error) {
	sess, ok := s.Session(id)
	if !ok {
		return ValidationResult{}, ErrSessionNotFound
	}
	sess.mu.Lock()
	sess.state = StateValidating
	result := Validate(sess.fields, sess.values)
	if result.AllFilled && sess.uploadsInFlight == 0 {
		sess.state = StateReady
	} else {
		sess.state = StateBlocked
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	s.afterChange(sess, snap)
	return result, nil
}

// Submit assembles a fresh payload and hands it to the checkout
// collaborator. It refuses while any upload is in flight, regardless
// of field completeness, and refuses on the first unmet required
// field.
func (s *SubmissionService) Submit(id string) (*personalization.Payload, error) {
	sess, ok := s.Session(id)
	if !ok {
		return nil, ErrSessionNotFound
	}

	sess.mu.Lock()
	if sess.uploadsInFlight > 0 {
		sess.state = StateBlocked
		snap := sess.snapshotLocked()
		sess.mu.Unlock()
		s.afterChange(sess, snap)
		return nil, ErrUploadsInFlight
	}
	sess.state = StateValidating
	result := Validate(sess.fields, sess.values)
	if !result.AllFilled {
		sess.state = StateBlocked
		snap := sess.snapshotLocked()
		sess.mu.Unlock()
		s.afterChange(sess, snap)
		return nil, &MissingFieldError{Label: result.FirstMissingLabel}
	}

	sess.state = StateSubmitting
	payload := personalization.Assemble(sess.fields, sess.values)
	sess.payload = payload
	sess.state = StateSubmitted
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	s.checkout.WritePayload(sess.ID, serialized)
	s.afterChange(sess, snap)
	return payload, nil
}

// FulfillmentPair returns the resolved document and the submitted
// payload for the downstream print consumer. Only available after a
// successful submission.
func (s *SubmissionService) FulfillmentPair(id string) (*scene.Document, *personalization.Payload, error) {
	sess, ok := s.Session(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.payload == nil {
		return nil, nil, ErrNotSubmitted
	}
	return sess.doc.Clone(), sess.payload, nil
}

// afterChange pushes the new state to the checkout collaborator and
// the live preview clients.
func (s *SubmissionService) afterChange(sess *CustomizationSession, snap SessionSnapshot) {
	s.checkout.SetSubmitEnabled(sess.ID, snap.SubmitEnabled)

	message, err := json.Marshal(map[string]any{
		"type":    "session",
		"session": snap,
	})
	if err != nil {
		log.Printf("Session %s: failed to marshal live update: %v", sess.ID, err)
		return
	}
	// never block on a stopped or backed-up hub; every update carries
	// the full snapshot, so the next one makes up for a dropped one
	select {
	case sess.Broadcast <- message:
	default:
	}
}

func descriptorAt(fds []fields.Descriptor, index int) (fields.Descriptor, bool) {
	for _, fd := range fds {
		if fd.Index == index {
			return fd, true
		}
	}
	return fields.Descriptor{}, false
}
