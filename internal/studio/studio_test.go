package studio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tracklab/internal/bus"
	"tracklab/internal/composition"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBackendDown = errors.New("backend down")

// hookedService wraps a real persistence backend with call counters and
// optional rendezvous channels, so tests can observe and serialize the
// coordinator's save and load traffic.
type hookedService struct {
	PersistenceService

	mu          sync.Mutex
	saveCalls   int
	seqSaves    int
	inFlight    int
	maxInFlight int
	failSaves   int
	optsSeen    []composition.SaveOptions

	// When set, SaveComposition signals saveStarted on entry and then waits
	// on saveRelease before proceeding.
	saveStarted chan struct{}
	saveRelease chan struct{}

	// Same rendezvous for GetComposition.
	getStarted chan struct{}
	getRelease chan struct{}
}

func newHookedService() *hookedService {
	return &hookedService{
		PersistenceService: composition.NewService(composition.NewInMemoryRepository()),
	}
}

func (h *hookedService) SaveComposition(ctx context.Context, id composition.CompositionID, opts composition.SaveOptions) (composition.SaveResult, error) {
	h.mu.Lock()
	h.saveCalls++
	h.inFlight++
	if h.inFlight > h.maxInFlight {
		h.maxInFlight = h.inFlight
	}
	h.optsSeen = append(h.optsSeen, opts)
	fail := h.failSaves > 0
	if fail {
		h.failSaves--
	}
	started, release := h.saveStarted, h.saveRelease
	h.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	defer func() {
		h.mu.Lock()
		h.inFlight--
		h.mu.Unlock()
	}()

	if fail {
		return composition.SaveResult{}, errBackendDown
	}
	return h.PersistenceService.SaveComposition(ctx, id, opts)
}

func (h *hookedService) GetComposition(ctx context.Context, id composition.CompositionID, useAutosave bool) (composition.Document, error) {
	h.mu.Lock()
	started, release := h.getStarted, h.getRelease
	h.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return h.PersistenceService.GetComposition(ctx, id, useAutosave)
}

func (h *hookedService) SaveSequence(ctx context.Context, id composition.CompositionID, doc composition.SequenceDoc) error {
	h.mu.Lock()
	h.seqSaves++
	h.mu.Unlock()
	return h.PersistenceService.SaveSequence(ctx, id, doc)
}

func (h *hookedService) stats() (saveCalls, maxInFlight, seqSaves int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saveCalls, h.maxInFlight, h.seqSaves
}

// newSession builds a session on ch with timers and election disabled, so
// tests drive every save and tick explicitly.
func newSession(t *testing.T, ch *bus.Channel, svc PersistenceService, sessionID string) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		SessionID:             sessionID,
		Bus:                   ch.Attach(),
		Service:               svc,
		Logger:                discardLogger(),
		DisableAutosave:       true,
		DisableLeaderElection: true,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
