package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dbft-federation/pkg/consensus/crypto"
	"dbft-federation/pkg/consensus/events"
	"dbft-federation/pkg/consensus/ledger"
	"dbft-federation/pkg/consensus/mempool"
	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/network"
	"dbft-federation/pkg/consensus/round"
	"dbft-federation/pkg/consensus/types"
)

// FinalizedHandler is invoked when a commit quorum finalizes a block. The
// handler must not block; persistence runs outside the engine and its
// completion re-enters as an AdvanceHeight call.
type FinalizedHandler func(block *ledger.CommittedBlock)

// StalledHandler is invoked when a height exhausts MaxViewChanges. The
// engine keeps following committee quorum and recovery afterwards; the
// handler is the observable liveness signal for operators.
type StalledHandler func(height types.BlockIndex, view types.ViewNumber)

// Engine is the sequential dBFT state machine for one validator. It is
// owned by exactly one goroutine: every method must be called from the
// same event loop, and no method blocks. Outbound broadcasts are
// fire-and-forget.
type Engine struct {
	myIndex   types.ValidatorIndex
	config    *types.ConsensusConfig
	committee *types.Committee

	crypto  crypto.CryptoInterface
	network network.NetworkInterface
	builder *ProposalBuilder
	recon   *RecoveryReconciler
	tracer  events.EventTracer
	logger  zerolog.Logger

	state State
	rnd   *round.Round
	block *types.Block

	prevHash      types.BlockHash
	prevTimestamp uint64

	viewChanges int
	stalled     bool

	// futureHeightSenders tracks distinct validators seen sending messages
	// for heights past ours; f+1 of them prove the committee moved on.
	futureHeightSenders map[types.ValidatorIndex]struct{}

	onFinalized FinalizedHandler
	onStalled   StalledHandler

	nowFn func() time.Time
}

// Config bundles the collaborators an Engine needs.
type Config struct {
	MyIndex   types.ValidatorIndex
	Consensus *types.ConsensusConfig
	Committee *types.Committee
	Crypto    crypto.CryptoInterface
	Network   network.NetworkInterface
	Mempool   mempool.MempoolInterface
	Tracer    events.EventTracer
	Logger    zerolog.Logger
}

// NewEngine creates a dBFT engine. Construction fails with a Configuration
// or NotReady error when the config is invalid or a collaborator is missing.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Consensus == nil || cfg.Committee == nil {
		return nil, types.NewConsensusError(types.ErrorTypeNotReady,
			"engine requires consensus config and committee")
	}
	if err := cfg.Consensus.Validate(); err != nil {
		return nil, err
	}
	if cfg.Consensus.ValidatorCount != cfg.Committee.ValidatorCount() {
		return nil, types.NewConsensusErrorf(types.ErrorTypeConfiguration,
			"config expects %d validators, committee has %d",
			cfg.Consensus.ValidatorCount, cfg.Committee.ValidatorCount())
	}
	if !cfg.Committee.IsValidIndex(cfg.MyIndex) {
		return nil, types.NewConsensusErrorf(types.ErrorTypeInvalidValidator,
			"own index %d not in committee", cfg.MyIndex)
	}
	if cfg.Crypto == nil || cfg.Network == nil || cfg.Mempool == nil {
		return nil, types.NewConsensusError(types.ErrorTypeNotReady,
			"engine requires crypto, network and mempool collaborators")
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = &events.NoOpEventTracer{}
	}

	return &Engine{
		myIndex:             cfg.MyIndex,
		config:              cfg.Consensus,
		committee:           cfg.Committee,
		crypto:              cfg.Crypto,
		network:             cfg.Network,
		builder:             NewProposalBuilder(cfg.Consensus, cfg.Mempool),
		recon:               NewRecoveryReconciler(cfg.Consensus, cfg.Committee, cfg.Crypto),
		tracer:              tracer,
		logger:              cfg.Logger.With().Str("component", "dbft").Uint8("validator", uint8(cfg.MyIndex)).Logger(),
		state:               StateAwaitingProposal,
		futureHeightSenders: make(map[types.ValidatorIndex]struct{}),
		nowFn:               time.Now,
	}, nil
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return e.state
}

// Round returns the active round, or nil before StartHeight.
func (e *Engine) Round() *round.Round {
	return e.rnd
}

// MyIndex returns this validator's committee index.
func (e *Engine) MyIndex() types.ValidatorIndex {
	return e.myIndex
}

// IsStalled reports whether the current height exhausted MaxViewChanges.
func (e *Engine) IsStalled() bool {
	return e.stalled
}

// SetFinalizedHandler registers the finalized-block handler.
func (e *Engine) SetFinalizedHandler(h FinalizedHandler) {
	e.onFinalized = h
}

// SetStalledHandler registers the liveness-stalled handler.
func (e *Engine) SetStalledHandler(h StalledHandler) {
	e.onStalled = h
}

// TimeoutForCurrentView returns the timer duration for the active view.
func (e *Engine) TimeoutForCurrentView() time.Duration {
	if e.rnd == nil {
		return e.config.ViewTimeout
	}
	return e.config.TimeoutForView(e.rnd.ViewNumber())
}

// StartHeight begins consensus for the given height at view 0. The
// previous block reference anchors proposal validation.
func (e *Engine) StartHeight(height types.BlockIndex, prevHash types.BlockHash, prevTimestamp uint64) error {
	e.rnd = round.NewRound(height)
	e.block = nil
	e.prevHash = prevHash
	e.prevTimestamp = prevTimestamp
	e.viewChanges = 0
	e.stalled = false
	e.futureHeightSenders = make(map[types.ValidatorIndex]struct{})
	e.logger.Info().Uint32("height", uint32(height)).Msg("starting consensus height")
	return e.startView(0)
}

// startView enters the given view of the active round: the primary builds
// and broadcasts its proposal, backups wait for one.
func (e *Engine) startView(view types.ViewNumber) error {
	e.rnd.ResetForView(view)
	e.block = nil

	primary := e.committee.PrimaryIndex(view)
	if primary != e.myIndex {
		e.transition(StateAwaitingProposal, "backup for view")
		return nil
	}

	e.transition(StateProposalPending, "primary for view")
	block, request, err := e.builder.Build(e.rnd.BlockIndex(), e.prevHash, e.prevTimestamp)
	if err != nil {
		// Without a proposal the view will time out and the committee
		// moves on; surfacing the error lets the caller log it.
		e.logger.Warn().Err(err).Msg("proposal build failed")
		return err
	}
	e.block = block
	e.rnd.SetPrepareRequest(request)

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalBuilt, events.EventPayload{
		"height":     uint32(e.rnd.BlockIndex()),
		"view":       uint8(view),
		"block_hash": block.Hash().String(),
		"tx_count":   len(block.TxHashes),
	})

	// The primary implicitly accepts its own proposal.
	own := messages.NewPrepareResponseAccepted(request.BlockHash)
	e.rnd.AddPrepareResponse(e.myIndex, own)

	e.broadcast(request)
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalBroadcasted, nil)
	e.transition(StateAwaitingQuorumOfResponses, "proposal broadcast")
	return nil
}

// HandlePayload processes one inbound consensus payload. Malformed,
// unverifiable or out-of-context payloads are discarded with a typed
// error; the engine never panics on adversarial input.
func (e *Engine) HandlePayload(p *messages.Payload) error {
	if e.rnd == nil {
		return types.NewConsensusError(types.ErrorTypeNotReady, "engine has no active round")
	}
	if p == nil || p.Message == nil {
		return e.discard(p, types.NewConsensusError(types.ErrorTypeInvalidMessage, "empty payload"))
	}
	if !e.committee.IsValidIndex(p.ValidatorIndex) {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidValidator,
			"validator index %d out of range", p.ValidatorIndex))
	}
	if p.ValidatorIndex == e.myIndex {
		// Own broadcasts loop back on some transports.
		return nil
	}
	if err := e.crypto.Verify(p.Serialize(), p.Signature, p.ValidatorIndex); err != nil {
		e.tracer.RecordEvent(uint8(e.myIndex), events.EventSignatureInvalid, events.EventPayload{
			"sender": uint8(p.ValidatorIndex),
			"type":   p.Type().String(),
		})
		return e.discard(p, types.NewConsensusErrorWithCause(
			types.ErrorTypeSignatureVerification, "envelope signature rejected", err))
	}

	if p.BlockIndex != e.rnd.BlockIndex() {
		return e.handleHeightMismatch(p)
	}

	e.tracer.RecordMessage(uint8(e.myIndex), events.MessageInbound, p.Type().String(), events.EventPayload{
		"sender": uint8(p.ValidatorIndex),
		"view":   uint8(p.ViewNumber),
	})

	switch msg := p.Message.(type) {
	case *messages.PrepareRequest:
		return e.onPrepareRequest(p, msg)
	case *messages.PrepareResponse:
		return e.onPrepareResponse(p, msg)
	case *messages.Commit:
		return e.onCommit(p, msg)
	case *messages.ChangeView:
		return e.onChangeView(p, msg)
	case *messages.RecoveryRequest:
		return e.onRecoveryRequest(p, msg)
	case *messages.RecoveryResponse:
		return e.onRecoveryResponse(p, msg)
	default:
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"unhandled message type %s", p.Type()))
	}
}

// handleHeightMismatch discards stale-height traffic and watches for
// evidence that the committee advanced past us. Once f+1 distinct
// validators send future-height messages, the node is provably behind and
// requests recovery.
func (e *Engine) handleHeightMismatch(p *messages.Payload) error {
	if p.BlockIndex < e.rnd.BlockIndex() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"stale height %d, local %d", p.BlockIndex, e.rnd.BlockIndex()))
	}

	e.futureHeightSenders[p.ValidatorIndex] = struct{}{}
	if len(e.futureHeightSenders) > e.committee.ByzantineThreshold() && e.state != StateRecoveryPending {
		e.logger.Warn().
			Uint32("local_height", uint32(e.rnd.BlockIndex())).
			Uint32("observed_height", uint32(p.BlockIndex)).
			Msg("committee advanced past local height, requesting recovery")
		e.RequestRecovery()
	}
	return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
		"future height %d, local %d", p.BlockIndex, e.rnd.BlockIndex()))
}

// onPrepareRequest handles the primary's proposal as a backup.
func (e *Engine) onPrepareRequest(p *messages.Payload, req *messages.PrepareRequest) error {
	if e.state.IsTerminal() {
		return nil
	}
	if p.ViewNumber != e.rnd.ViewNumber() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"prepare request for view %d, current %d", p.ViewNumber, e.rnd.ViewNumber()))
	}
	if p.ValidatorIndex != e.committee.PrimaryIndex(e.rnd.ViewNumber()) {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidValidator,
			"prepare request from %d, primary is %d",
			p.ValidatorIndex, e.committee.PrimaryIndex(e.rnd.ViewNumber())))
	}
	if e.rnd.PrepareRequest() != nil || e.rnd.HasResponse(e.myIndex) {
		// One proposal per view: once this node has voted on a proposal,
		// even to reject it, a retry from the same primary is a
		// duplicate-proposal fault.
		return e.discard(p, types.NewConsensusError(types.ErrorTypeInvalidProposal,
			"duplicate proposal in view"))
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalReceived, events.EventPayload{
		"primary": uint8(p.ValidatorIndex),
		"view":    uint8(p.ViewNumber),
	})

	if reason, err := e.checkProposal(req); err != nil {
		// Invalid proposal: vote reject and stay in the round. The view
		// timeout escalates if the primary cannot win a quorum.
		e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalRejected, events.EventPayload{
			"reason": reason,
		})
		response := messages.NewPrepareResponseRejected(req.BlockHash, reason)
		e.rnd.AddPrepareResponse(e.myIndex, response)
		e.broadcast(response)
		return err
	}

	block, err := types.DeserializeBlock(req.BlockData)
	if err != nil {
		return e.discard(p, err)
	}
	e.block = block
	e.rnd.SetPrepareRequest(req)

	// The proposal counts as the primary's own accepted response.
	e.rnd.AddPrepareResponse(p.ValidatorIndex, messages.NewPrepareResponseAccepted(req.BlockHash))

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalAccepted, events.EventPayload{
		"block_hash": req.BlockHash.String(),
	})

	response := messages.NewPrepareResponseAccepted(req.BlockHash)
	e.rnd.AddPrepareResponse(e.myIndex, response)
	e.broadcast(response)
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventResponseSent, nil)
	e.transition(StateAwaitingQuorumOfResponses, "proposal accepted")

	return e.checkResponseQuorum()
}

// checkProposal applies the backup's validation to an inbound proposal and
// returns the reject reason on failure.
func (e *Engine) checkProposal(req *messages.PrepareRequest) (string, error) {
	if err := req.Validate(e.config); err != nil {
		return err.Error(), err
	}
	block, err := types.DeserializeBlock(req.BlockData)
	if err != nil {
		return "undecodable block data", err
	}
	if block.Hash() != req.BlockHash {
		err := types.NewConsensusError(types.ErrorTypeInvalidProposal,
			"block hash does not match block data")
		return err.Error(), err
	}
	if block.Index != e.rnd.BlockIndex() {
		err := types.NewConsensusErrorf(types.ErrorTypeInvalidProposal,
			"block index %d, expected %d", block.Index, e.rnd.BlockIndex())
		return err.Error(), err
	}
	if block.PrevHash != e.prevHash {
		err := types.NewConsensusError(types.ErrorTypeInvalidProposal,
			"proposal does not extend the local chain tip")
		return err.Error(), err
	}
	if block.Timestamp <= e.prevTimestamp {
		err := types.NewConsensusError(types.ErrorTypeInvalidProposal,
			"proposal timestamp not newer than previous block")
		return err.Error(), err
	}
	return "", nil
}

// onPrepareResponse records a backup's vote and advances to the commit
// phase once the response quorum is reached.
func (e *Engine) onPrepareResponse(p *messages.Payload, resp *messages.PrepareResponse) error {
	if e.state.IsTerminal() {
		return nil
	}
	if p.ViewNumber != e.rnd.ViewNumber() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"prepare response for view %d, current %d", p.ViewNumber, e.rnd.ViewNumber()))
	}
	if err := resp.Validate(e.config); err != nil {
		return e.discard(p, err)
	}
	if !e.rnd.AddPrepareResponse(p.ValidatorIndex, resp) {
		// Keep-first: a resend never overwrites the recorded vote.
		return nil
	}
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventResponseReceived, events.EventPayload{
		"sender":   uint8(p.ValidatorIndex),
		"accepted": resp.Accepted,
	})
	return e.checkResponseQuorum()
}

// checkResponseQuorum broadcasts this validator's commit once enough
// accepted responses are recorded.
func (e *Engine) checkResponseQuorum() error {
	if e.block == nil || e.rnd.HasCommit(e.myIndex) {
		return nil
	}
	if !e.rnd.HasEnoughPrepareResponses(e.config.RequiredSignatures()) {
		return nil
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventResponseQuorum, events.EventPayload{
		"accepted": e.rnd.AcceptedResponseCount(),
	})

	blockHash := e.block.Hash()
	signature, err := e.crypto.Sign(blockHash[:])
	if err != nil {
		return types.NewConsensusErrorWithCause(types.ErrorTypeNotReady,
			"commit signing failed", err)
	}
	commit := messages.NewCommit(signature)
	e.rnd.AddCommit(e.myIndex, commit)
	e.broadcast(commit)
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventCommitSent, nil)
	e.transition(StateAwaitingQuorumOfCommits, "response quorum reached")

	return e.checkCommitQuorum()
}

// onCommit records a validator's commit signature and finalizes the block
// once the commit quorum is reached.
func (e *Engine) onCommit(p *messages.Payload, commit *messages.Commit) error {
	if e.state.IsTerminal() {
		return nil
	}
	if p.ViewNumber != e.rnd.ViewNumber() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"commit for view %d, current %d", p.ViewNumber, e.rnd.ViewNumber()))
	}
	if err := commit.Validate(e.config); err != nil {
		return e.discard(p, err)
	}
	if e.block == nil {
		// No agreed block means no hash to check the signature against.
		// The commit is refused rather than admitted unchecked; recovery
		// re-delivers it alongside the proposal.
		return e.discard(p, types.NewConsensusError(types.ErrorTypeInvalidMessage,
			"commit before proposal cannot be verified"))
	}
	blockHash := e.block.Hash()
	if err := e.crypto.Verify(blockHash[:], commit.Signature, p.ValidatorIndex); err != nil {
		return e.discard(p, types.NewConsensusErrorWithCause(
			types.ErrorTypeSignatureVerification, "commit signature rejected", err))
	}
	if !e.rnd.AddCommit(p.ValidatorIndex, commit) {
		return nil
	}
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventCommitReceived, events.EventPayload{
		"sender": uint8(p.ValidatorIndex),
	})
	return e.checkCommitQuorum()
}

// checkCommitQuorum finalizes the height once enough commits are recorded.
func (e *Engine) checkCommitQuorum() error {
	if e.block == nil || e.state.IsTerminal() {
		return nil
	}
	if !e.rnd.HasEnoughCommits(e.config.RequiredSignatures()) {
		return nil
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventCommitQuorum, events.EventPayload{
		"commits": e.rnd.CommitCount(),
	})

	signatures := make(map[types.ValidatorIndex][]byte)
	for idx, c := range e.rnd.Commits() {
		signatures[idx] = c.Signature
	}
	committed := &ledger.CommittedBlock{
		Block:      e.block,
		Signatures: signatures,
	}

	e.transition(StateFinalized, "commit quorum reached")
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventBlockFinalized, events.EventPayload{
		"height":     uint32(e.rnd.BlockIndex()),
		"block_hash": e.block.Hash().String(),
	})
	e.logger.Info().
		Uint32("height", uint32(e.rnd.BlockIndex())).
		Str("block_hash", e.block.Hash().String()).
		Int("commits", len(signatures)).
		Msg("block finalized")

	if e.onFinalized != nil {
		e.onFinalized(committed)
	}
	return nil
}

// AdvanceHeight moves to the next height after the finalized block was
// persisted. The caller supplies the persisted block so the engine anchors
// the next round on it.
func (e *Engine) AdvanceHeight(block *types.Block) error {
	if block == nil {
		return types.NewConsensusError(types.ErrorTypeNotReady, "advance requires the persisted block")
	}
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventHeightAdvanced, events.EventPayload{
		"height": uint32(block.Index + 1),
	})
	return e.StartHeight(block.Index+1, block.Hash(), block.Timestamp)
}

// OnTimeout handles the expiry of the view timer. Stale timers for
// superseded heights or views are ignored.
func (e *Engine) OnTimeout(height types.BlockIndex, view types.ViewNumber) error {
	if e.rnd == nil || height != e.rnd.BlockIndex() || view != e.rnd.ViewNumber() {
		return nil
	}
	if e.state.IsTerminal() {
		return nil
	}

	var reason messages.ChangeViewReason
	switch e.state {
	case StateAwaitingProposal, StateProposalPending, StateRecoveryPending:
		reason = messages.ReasonPrepareRequestTimeout
	case StateAwaitingQuorumOfResponses:
		reason = messages.ReasonPrepareResponseTimeout
	case StateAwaitingQuorumOfCommits:
		reason = messages.ReasonCommitTimeout
	case StateViewChanging:
		// The previous escalation found no quorum either.
		reason = messages.ReasonPrepareRequestTimeout
	default:
		return nil
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventViewTimeout, events.EventPayload{
		"view":   uint8(view),
		"reason": reason.String(),
	})
	return e.RequestViewChange(reason)
}

// RequestViewChange votes to replace the primary for the stated reason.
// When the height has exhausted MaxViewChanges the engine surfaces the
// stalled condition instead of escalating further; it still follows the
// committee if a quorum forms from other validators' votes.
func (e *Engine) RequestViewChange(reason messages.ChangeViewReason) error {
	if e.rnd == nil {
		return types.NewConsensusError(types.ErrorTypeNotReady, "engine has no active round")
	}
	if e.viewChanges >= e.config.MaxViewChanges {
		if !e.stalled {
			e.stalled = true
			e.tracer.RecordEvent(uint8(e.myIndex), events.EventHeightStalled, events.EventPayload{
				"height":       uint32(e.rnd.BlockIndex()),
				"view":         uint8(e.rnd.ViewNumber()),
				"view_changes": e.viewChanges,
			})
			e.logger.Error().
				Uint32("height", uint32(e.rnd.BlockIndex())).
				Int("view_changes", e.viewChanges).
				Msg("height stalled: view change budget exhausted")
			if e.onStalled != nil {
				e.onStalled(e.rnd.BlockIndex(), e.rnd.ViewNumber())
			}
		}
		return types.NewConsensusErrorf(types.ErrorTypeTimeout,
			"height %d stalled after %d view changes", e.rnd.BlockIndex(), e.viewChanges)
	}
	e.viewChanges++

	target := e.rnd.ViewNumber().Next()
	cv := messages.NewChangeView(target, uint64(e.nowFn().UnixMilli()), reason)
	e.rnd.AddChangeView(e.myIndex, cv)
	e.broadcast(cv)
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventChangeViewSent, events.EventPayload{
		"target": uint8(target),
		"reason": reason.String(),
	})
	e.transition(StateViewChanging, "view change requested")

	return e.checkViewChangeQuorum()
}

// onChangeView records another validator's view change vote.
func (e *Engine) onChangeView(p *messages.Payload, cv *messages.ChangeView) error {
	if e.state.IsTerminal() {
		return nil
	}
	if err := cv.Validate(e.config); err != nil {
		return e.discard(p, err)
	}
	if cv.NewViewNumber <= e.rnd.ViewNumber() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeInvalidMessage,
			"change view targets %d, current view is %d", cv.NewViewNumber, e.rnd.ViewNumber()))
	}
	if !e.rnd.AddChangeView(p.ValidatorIndex, cv) {
		return nil
	}
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventChangeViewReceived, events.EventPayload{
		"sender": uint8(p.ValidatorIndex),
		"target": uint8(cv.NewViewNumber),
	})
	return e.checkViewChangeQuorum()
}

// checkViewChangeQuorum moves to the next view once the committee quorum
// names it (or any higher view).
func (e *Engine) checkViewChangeQuorum() error {
	target := e.rnd.ViewNumber().Next()
	if e.rnd.CountChangeViewsFor(target) < e.config.RequiredSignatures() {
		return nil
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventViewChanged, events.EventPayload{
		"view": uint8(target),
	})
	e.logger.Info().
		Uint8("view", uint8(target)).
		Uint8("primary", uint8(e.committee.PrimaryIndex(target))).
		Msg("view changed")
	return e.startView(target)
}

// RequestRecovery asks peers for their round knowledge. Used on startup
// and when the node detects it fell behind.
func (e *Engine) RequestRecovery() {
	if e.rnd == nil {
		return
	}
	e.transition(StateRecoveryPending, "recovery requested")
	e.broadcast(messages.NewRecoveryRequest(uint64(e.nowFn().UnixMilli())))
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventRecoveryRequested, nil)
}

// onRecoveryRequest serves the requester a snapshot of the local round.
func (e *Engine) onRecoveryRequest(p *messages.Payload, _ *messages.RecoveryRequest) error {
	resp := e.recon.BuildResponse(e.rnd)
	e.broadcast(resp)
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventRecoveryServed, events.EventPayload{
		"requester": uint8(p.ValidatorIndex),
	})
	return nil
}

// onRecoveryResponse merges a peer's round snapshot and jumps directly to
// the merged view and phase instead of replaying intermediate transitions.
// The relayer's envelope proves nothing on its own: a view jump must be
// justified by a change view quorum carried inside the bundle, and a
// bundled proposal passes the same anchoring a live one gets before it is
// adopted.
func (e *Engine) onRecoveryResponse(p *messages.Payload, resp *messages.RecoveryResponse) error {
	if e.state.IsTerminal() {
		return nil
	}
	if p.ViewNumber < e.rnd.ViewNumber() {
		return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeRecovery,
			"recovery response for stale view %d", p.ViewNumber))
	}

	if p.ViewNumber > e.rnd.ViewNumber() {
		justification := e.bundleViewJustification(resp, p.ViewNumber)
		if len(justification) < e.config.RequiredSignatures() {
			return e.discard(p, types.NewConsensusErrorf(types.ErrorTypeRecovery,
				"view %d claimed without a change view quorum", p.ViewNumber))
		}
		if err := e.startView(p.ViewNumber); err != nil {
			return err
		}
		e.rnd.AdoptViewJustification(justification)
	}

	merge := resp
	if resp.PrepareRequest != nil && e.rnd.PrepareRequest() == nil {
		if reason, err := e.checkProposal(resp.PrepareRequest); err != nil {
			// The rest of the bundle still merges; its commits stay out
			// because there is no agreed hash to check them against.
			e.tracer.RecordEvent(uint8(e.myIndex), events.EventProposalRejected, events.EventPayload{
				"reason":  reason,
				"relayer": uint8(p.ValidatorIndex),
			})
			stripped := *resp
			stripped.PrepareRequest = nil
			merge = &stripped
		}
	}

	result, err := e.recon.Merge(e.rnd, merge)
	if err != nil {
		return e.discard(p, err)
	}
	if !result.Changed() {
		return nil
	}

	e.tracer.RecordEvent(uint8(e.myIndex), events.EventRecoveryMerged, events.EventPayload{
		"change_views": result.AddedChangeViews,
		"responses":    result.AddedResponses,
		"commits":      result.AddedCommits,
		"proposal":     result.AdoptedPrepareRequest,
	})

	// Re-derive local phase from the merged round state.
	if result.AdoptedPrepareRequest && e.block == nil {
		req := e.rnd.PrepareRequest()
		block, err := types.DeserializeBlock(req.BlockData)
		if err == nil && block.Hash() == req.BlockHash {
			e.block = block
			if !e.rnd.HasResponse(e.myIndex) {
				own := messages.NewPrepareResponseAccepted(req.BlockHash)
				e.rnd.AddPrepareResponse(e.myIndex, own)
				e.broadcast(own)
			}
			e.transition(StateAwaitingQuorumOfResponses, "proposal adopted from recovery")
		}
	}
	if err := e.checkResponseQuorum(); err != nil {
		return err
	}
	if err := e.checkCommitQuorum(); err != nil {
		return err
	}
	if e.state.IsTerminal() {
		return nil
	}
	return e.checkViewChangeQuorum()
}

// bundleViewJustification collects the bundle's distinct valid change view
// votes naming the target view or a higher one.
func (e *Engine) bundleViewJustification(resp *messages.RecoveryResponse,
	target types.ViewNumber) map[types.ValidatorIndex]*messages.ChangeView {
	votes := make(map[types.ValidatorIndex]*messages.ChangeView)
	for i := range resp.ChangeViews {
		entry := &resp.ChangeViews[i]
		if !e.committee.IsValidIndex(entry.ValidatorIndex) {
			continue
		}
		if entry.ChangeView.Validate(e.config) != nil {
			continue
		}
		if entry.ChangeView.NewViewNumber < target {
			continue
		}
		if _, seen := votes[entry.ValidatorIndex]; seen {
			continue
		}
		cv := entry.ChangeView
		votes[entry.ValidatorIndex] = &cv
	}
	return votes
}

// broadcast wraps the message in a signed envelope and fires it at the
// committee without awaiting acknowledgment.
func (e *Engine) broadcast(msg messages.ConsensusMessage) {
	payload := messages.NewPayload(e.myIndex, e.rnd.BlockIndex(), e.rnd.ViewNumber(),
		uint64(e.nowFn().UnixMilli()), msg)
	signature, err := e.crypto.Sign(payload.Serialize())
	if err != nil {
		e.logger.Error().Err(err).Str("type", msg.Type().String()).Msg("payload signing failed")
		return
	}
	payload.Signature = signature

	e.tracer.RecordMessage(uint8(e.myIndex), events.MessageOutbound, msg.Type().String(), nil)
	if err := e.network.Broadcast(context.Background(), payload); err != nil {
		e.logger.Warn().Err(err).Str("type", msg.Type().String()).Msg("broadcast failed")
	}
}

// transition moves the state machine and records the transition.
func (e *Engine) transition(to State, trigger string) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	e.tracer.RecordTransition(uint8(e.myIndex), from.traceState(), to.traceState(), trigger)
	e.logger.Debug().Str("from", from.String()).Str("to", to.String()).Str("trigger", trigger).
		Msg("state transition")
}

// discard logs and counts a rejected payload and returns its typed error.
func (e *Engine) discard(p *messages.Payload, err error) error {
	payload := events.EventPayload{"error": err.Error()}
	if p != nil {
		payload["sender"] = uint8(p.ValidatorIndex)
		if p.Message != nil {
			payload["type"] = p.Type().String()
		}
	}
	e.tracer.RecordEvent(uint8(e.myIndex), events.EventMessageDiscarded, payload)
	e.logger.Debug().Err(err).Msg("payload discarded")
	return err
}
