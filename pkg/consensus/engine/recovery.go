package engine

import (
	"sort"

	"dbft-federation/pkg/consensus/crypto"
	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/round"
	"dbft-federation/pkg/consensus/types"
)

// RecoveryReconciler assembles recovery bundles for late peers and merges
// inbound bundles into local round state. Merging is monotonic (entries are
// only added, the view never regresses), idempotent and commutative, so
// bundles from multiple peers may arrive in any order or overlap.
type RecoveryReconciler struct {
	config    *types.ConsensusConfig
	committee *types.Committee
	verifier  crypto.Verifier
}

// NewRecoveryReconciler creates a reconciler for the given committee.
func NewRecoveryReconciler(config *types.ConsensusConfig, committee *types.Committee,
	verifier crypto.Verifier) *RecoveryReconciler {
	return &RecoveryReconciler{
		config:    config,
		committee: committee,
		verifier:  verifier,
	}
}

// BuildResponse snapshots the round's change view votes, active proposal,
// prepare responses and commits into a recovery bundle. Entries are sorted
// by validator index so equal round states produce identical bundles.
func (rr *RecoveryReconciler) BuildResponse(rnd *round.Round) *messages.RecoveryResponse {
	resp := &messages.RecoveryResponse{
		PrepareRequest: rnd.PrepareRequest(),
	}

	// The votes that justified the current view travel with the bundle so
	// the receiver can check a view jump against evidence.
	changeViews := rnd.ViewJustification()
	for idx, cv := range rnd.ChangeViews() {
		changeViews[idx] = cv
	}
	for _, idx := range sortedKeysCV(changeViews) {
		resp.ChangeViews = append(resp.ChangeViews, messages.IndexedChangeView{
			ValidatorIndex: idx,
			ChangeView:     *changeViews[idx],
		})
	}
	responses := rnd.PrepareResponses()
	for _, idx := range sortedKeysPR(responses) {
		resp.PrepareResponses = append(resp.PrepareResponses, messages.IndexedPrepareResponse{
			ValidatorIndex: idx,
			Response:       *responses[idx],
		})
	}
	commits := rnd.Commits()
	for _, idx := range sortedKeysC(commits) {
		resp.Commits = append(resp.Commits, messages.IndexedCommit{
			ValidatorIndex: idx,
			Commit:         *commits[idx],
		})
	}
	return resp
}

// MergeResult describes what a recovery merge changed.
type MergeResult struct {
	// AddedChangeViews, AddedResponses and AddedCommits count newly
	// admitted entries; duplicates of already-known entries are ignored.
	AddedChangeViews int
	AddedResponses   int
	AddedCommits     int
	// AdoptedPrepareRequest reports whether the bundle supplied the active
	// proposal the local round was missing.
	AdoptedPrepareRequest bool
}

// Changed reports whether the merge admitted anything new.
func (mr *MergeResult) Changed() bool {
	return mr.AddedChangeViews > 0 || mr.AddedResponses > 0 || mr.AddedCommits > 0 ||
		mr.AdoptedPrepareRequest
}

// Merge admits the bundle's entries into the round. Every entry's claimed
// validator index must address a committee member and every sub-message
// must pass structural validation; commit signatures are verified against
// the agreed block hash, and while the round has no proposal commits stay
// out entirely since they cannot be checked. Invalid entries are skipped
// without failing the whole merge, so one Byzantine bundle cannot suppress
// honest knowledge delivered alongside it.
func (rr *RecoveryReconciler) Merge(rnd *round.Round, resp *messages.RecoveryResponse) (*MergeResult, error) {
	if resp == nil {
		return nil, types.NewConsensusError(types.ErrorTypeRecovery, "nil recovery response")
	}
	result := &MergeResult{}

	// Adopt the proposal first so commit signatures can be checked against
	// its block hash in the same merge.
	if resp.PrepareRequest != nil && rnd.PrepareRequest() == nil {
		if err := resp.PrepareRequest.Validate(rr.config); err == nil {
			if rnd.SetPrepareRequest(resp.PrepareRequest) {
				result.AdoptedPrepareRequest = true
			}
		}
	}

	for i := range resp.ChangeViews {
		entry := &resp.ChangeViews[i]
		if !rr.committee.IsValidIndex(entry.ValidatorIndex) {
			continue
		}
		if entry.ChangeView.Validate(rr.config) != nil {
			continue
		}
		// Same arbitration a live vote gets: only votes past the current
		// view enter the tally.
		if entry.ChangeView.NewViewNumber <= rnd.ViewNumber() {
			continue
		}
		cv := entry.ChangeView
		if rnd.AddChangeView(entry.ValidatorIndex, &cv) {
			result.AddedChangeViews++
		}
	}

	for i := range resp.PrepareResponses {
		entry := &resp.PrepareResponses[i]
		if !rr.committee.IsValidIndex(entry.ValidatorIndex) {
			continue
		}
		if entry.Response.Validate(rr.config) != nil {
			continue
		}
		pr := entry.Response
		if rnd.AddPrepareResponse(entry.ValidatorIndex, &pr) {
			result.AddedResponses++
		}
	}

	// Without an agreed block hash no commit signature can be checked;
	// such commits stay out until a bundle supplies the proposal they sign.
	// Honest bundles always pair the two, since a round only holds commits
	// after accepting a proposal.
	if blockHash := rr.agreedBlockHash(rnd); blockHash != nil {
		for i := range resp.Commits {
			entry := &resp.Commits[i]
			if !rr.committee.IsValidIndex(entry.ValidatorIndex) {
				continue
			}
			if entry.Commit.Validate(rr.config) != nil {
				continue
			}
			if rr.verifier.Verify(blockHash[:], entry.Commit.Signature, entry.ValidatorIndex) != nil {
				continue
			}
			c := entry.Commit
			if rnd.AddCommit(entry.ValidatorIndex, &c) {
				result.AddedCommits++
			}
		}
	}
	return result, nil
}

// agreedBlockHash returns the hash commits must sign, or nil when the
// round has no proposal yet.
func (rr *RecoveryReconciler) agreedBlockHash(rnd *round.Round) *types.BlockHash {
	req := rnd.PrepareRequest()
	if req == nil {
		return nil
	}
	h := req.BlockHash
	return &h
}

func sortedKeysCV(m map[types.ValidatorIndex]*messages.ChangeView) []types.ValidatorIndex {
	keys := make([]types.ValidatorIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedKeysPR(m map[types.ValidatorIndex]*messages.PrepareResponse) []types.ValidatorIndex {
	keys := make([]types.ValidatorIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedKeysC(m map[types.ValidatorIndex]*messages.Commit) []types.ValidatorIndex {
	keys := make([]types.ValidatorIndex, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
