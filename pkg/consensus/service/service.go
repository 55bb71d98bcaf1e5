// Package service runs the consensus engine on a single event loop. The
// engine itself is not goroutine safe; this package serializes network
// payloads, view timers and ledger completions into one stream of calls.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dbft-federation/pkg/consensus/engine"
	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/network"
	"dbft-federation/pkg/consensus/types"
)

// commitResult carries the outcome of an asynchronous ledger write back
// into the event loop.
type commitResult struct {
	committed *ledger.CommittedBlock
	err       error
}

// timerEvent identifies which height and view a timer was armed for, so
// stale expirations from superseded views are dropped by the engine.
type timerEvent struct {
	height types.BlockIndex
	view   types.ViewNumber
}

// Service owns the consensus event loop for one validator node. It starts
// consensus from the ledger tip, feeds inbound payloads and timer
// expirations to the engine, persists finalized blocks off the loop and
// re-enters their completion as events.
type Service struct {
	engine  *engine.Engine
	network network.NetworkInterface
	ledger  ledger.LedgerInterface
	logger  zerolog.Logger

	timerCh  chan timerEvent
	commitCh chan commitResult

	// onCommitted runs on the event loop after a block becomes durable.
	onCommitted func(*ledger.CommittedBlock)

	timerMu   sync.Mutex
	viewTimer *time.Timer
	armedFor  timerEvent

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewService wires an engine to its network and ledger.
func NewService(eng *engine.Engine, net network.NetworkInterface,
	led ledger.LedgerInterface, logger zerolog.Logger) (*Service, error) {
	if eng == nil || net == nil || led == nil {
		return nil, types.NewConsensusError(types.ErrorTypeNotReady,
			"service requires engine, network and ledger")
	}
	s := &Service{
		engine:   eng,
		network:  net,
		ledger:   led,
		logger:   logger.With().Str("component", "consensus-service").Logger(),
		timerCh:  make(chan timerEvent, 1),
		commitCh: make(chan commitResult, 1),
	}
	eng.SetFinalizedHandler(s.persistAsync)
	return s, nil
}

// SetCommittedHandler registers a callback fired on the event loop once a
// finalized block has been persisted. Must be called before Start.
func (s *Service) SetCommittedHandler(h func(*ledger.CommittedBlock)) {
	s.onCommitted = h
}

// Start begins consensus from the current ledger tip and runs the event
// loop until the context is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	tip, err := s.ledger.Tip()
	if err != nil {
		return types.NewConsensusErrorWithCause(types.ErrorTypeNotReady,
			"cannot read ledger tip", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.engine.StartHeight(tip.Index+1, tip.Hash(), tip.Timestamp); err != nil {
		s.logger.Warn().Err(err).Msg("initial height start reported an error")
	}
	// A restarted node may have missed most of the round in flight.
	s.engine.RequestRecovery()
	s.armViewTimer()

	s.wg.Add(1)
	go s.run(loopCtx)
	return nil
}

// Stop cancels the event loop and waits for it to drain.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.stopViewTimer()
	s.wg.Wait()
}

// run is the single consensus goroutine. Every engine call happens here.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	inbound := s.network.Receive()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("consensus loop stopped")
			return

		case received, ok := <-inbound:
			if !ok {
				s.logger.Warn().Msg("network receive channel closed")
				return
			}
			if err := s.engine.HandlePayload(received.Payload); err != nil {
				// Discarded payloads are expected under faults; the engine
				// already traced the reason.
				s.logger.Debug().Err(err).Msg("payload rejected")
			}
			// A quorum carried by this payload may have moved the view.
			s.rearmIfViewMoved()

		case ev := <-s.timerCh:
			if err := s.engine.OnTimeout(ev.height, ev.view); err != nil {
				s.logger.Debug().Err(err).Msg("timeout handling reported an error")
			}
			if !s.engine.State().IsTerminal() {
				s.armViewTimer()
			}

		case result := <-s.commitCh:
			s.onCommitResult(result)
		}
	}
}

// persistAsync writes the finalized block to the ledger off the event
// loop. The engine must never block on storage.
func (s *Service) persistAsync(committed *ledger.CommittedBlock) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.ledger.CommitBlock(committed)
		select {
		case s.commitCh <- commitResult{committed: committed, err: err}:
		default:
			// The loop already shut down; nothing is waiting for this.
			s.logger.Warn().
				Uint32("height", uint32(committed.Block.Index)).
				Msg("commit result dropped after shutdown")
		}
	}()
}

// onCommitResult advances to the next height after a successful persist.
// A conflict means the block already landed via another path; advancing is
// still correct because the chain tip moved.
func (s *Service) onCommitResult(result commitResult) {
	if result.err != nil && !ledger.IsLedgerError(result.err, ledger.ErrorTypeConflict) {
		s.logger.Error().Err(result.err).
			Uint32("height", uint32(result.committed.Block.Index)).
			Msg("ledger commit failed, retrying")
		s.persistAsync(result.committed)
		return
	}
	if s.onCommitted != nil {
		s.onCommitted(result.committed)
	}
	if err := s.engine.AdvanceHeight(result.committed.Block); err != nil {
		s.logger.Warn().Err(err).Msg("height advance reported an error")
	}
	s.armViewTimer()
}

// armViewTimer schedules the expiry for the engine's current height and
// view, replacing any previously armed timer.
func (s *Service) armViewTimer() {
	rnd := s.engine.Round()
	if rnd == nil {
		return
	}
	ev := timerEvent{height: rnd.BlockIndex(), view: rnd.ViewNumber()}
	timeout := s.engine.TimeoutForCurrentView()

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.viewTimer != nil {
		s.viewTimer.Stop()
	}
	s.armedFor = ev
	s.viewTimer = time.AfterFunc(timeout, func() {
		select {
		case s.timerCh <- ev:
		default:
			// A newer timer event is already queued.
		}
	})
}

// rearmIfViewMoved restarts the view timer when the engine's height or
// view no longer matches the armed timer. Without this, a view change
// completed by an inbound quorum would leave the new view untimed.
func (s *Service) rearmIfViewMoved() {
	rnd := s.engine.Round()
	if rnd == nil || s.engine.State().IsTerminal() {
		return
	}
	s.timerMu.Lock()
	current := timerEvent{height: rnd.BlockIndex(), view: rnd.ViewNumber()}
	moved := current != s.armedFor
	s.timerMu.Unlock()
	if moved {
		s.armViewTimer()
	}
}

func (s *Service) stopViewTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.viewTimer != nil {
		s.viewTimer.Stop()
		s.viewTimer = nil
	}
}
