// Package round holds the per-height mutable tally of collected consensus
// messages: prepare responses, commits and change view votes.
package round

import (
	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/types"
)

// Round is the mutable per-height, per-view state of one consensus attempt.
// It is owned exclusively by the engine; callers arbitrate which view a
// message belongs to before recording it here.
//
// Duplicate entries for a validator index are ignored: the first recorded
// message wins. A resend therefore never overwrites an earlier vote, which
// keeps recovery merges idempotent.
type Round struct {
	blockIndex types.BlockIndex
	viewNumber types.ViewNumber

	prepareRequest   *messages.PrepareRequest
	prepareResponses map[types.ValidatorIndex]*messages.PrepareResponse
	commits          map[types.ValidatorIndex]*messages.Commit
	changeViews      map[types.ValidatorIndex]*messages.ChangeView

	// viewJustification holds the change view votes that moved the round
	// into its current view. Recovery bundles ship them so a peer can
	// check a claimed view against evidence instead of trusting the
	// relayer's envelope.
	viewJustification map[types.ValidatorIndex]*messages.ChangeView
}

// NewRound creates an empty round for the given block height at view 0.
func NewRound(blockIndex types.BlockIndex) *Round {
	return &Round{
		blockIndex:        blockIndex,
		prepareResponses:  make(map[types.ValidatorIndex]*messages.PrepareResponse),
		commits:           make(map[types.ValidatorIndex]*messages.Commit),
		changeViews:       make(map[types.ValidatorIndex]*messages.ChangeView),
		viewJustification: make(map[types.ValidatorIndex]*messages.ChangeView),
	}
}

// BlockIndex returns the height this round is deciding.
func (r *Round) BlockIndex() types.BlockIndex {
	return r.blockIndex
}

// ViewNumber returns the current view of the round.
func (r *Round) ViewNumber() types.ViewNumber {
	return r.viewNumber
}

// PrepareRequest returns the active proposal, or nil before one is accepted.
func (r *Round) PrepareRequest() *messages.PrepareRequest {
	return r.prepareRequest
}

// SetPrepareRequest records the accepted proposal for the current view.
// It reports false if a proposal is already active.
func (r *Round) SetPrepareRequest(req *messages.PrepareRequest) bool {
	if r.prepareRequest != nil {
		return false
	}
	r.prepareRequest = req
	return true
}

// AddPrepareResponse records a validator's prepare response for the current
// view. It reports whether the entry was added; a duplicate index keeps the
// first entry and reports false.
func (r *Round) AddPrepareResponse(index types.ValidatorIndex, response *messages.PrepareResponse) bool {
	if _, exists := r.prepareResponses[index]; exists {
		return false
	}
	r.prepareResponses[index] = response
	return true
}

// AddCommit records a validator's commit for the current view. It reports
// whether the entry was added.
func (r *Round) AddCommit(index types.ValidatorIndex, commit *messages.Commit) bool {
	if _, exists := r.commits[index]; exists {
		return false
	}
	r.commits[index] = commit
	return true
}

// AddChangeView records a validator's change view vote for the current
// view. It reports whether the entry was added.
func (r *Round) AddChangeView(index types.ValidatorIndex, cv *messages.ChangeView) bool {
	if _, exists := r.changeViews[index]; exists {
		return false
	}
	r.changeViews[index] = cv
	return true
}

// HasEnoughPrepareResponses reports whether at least required accepted
// responses were recorded. Rejected responses never count toward quorum.
func (r *Round) HasEnoughPrepareResponses(required int) bool {
	return r.AcceptedResponseCount() >= required
}

// AcceptedResponseCount returns the number of accepted prepare responses.
func (r *Round) AcceptedResponseCount() int {
	count := 0
	for _, resp := range r.prepareResponses {
		if resp.Accepted {
			count++
		}
	}
	return count
}

// HasEnoughCommits reports whether at least required commits were recorded.
func (r *Round) HasEnoughCommits(required int) bool {
	return len(r.commits) >= required
}

// CommitCount returns the number of recorded commits.
func (r *Round) CommitCount() int {
	return len(r.commits)
}

// ChangeViewCount returns the number of recorded change view votes.
func (r *Round) ChangeViewCount() int {
	return len(r.changeViews)
}

// CountChangeViewsFor returns the number of votes naming the target view or
// a higher one.
func (r *Round) CountChangeViewsFor(target types.ViewNumber) int {
	count := 0
	for _, cv := range r.changeViews {
		if cv.NewViewNumber >= target {
			count++
		}
	}
	return count
}

// HasResponse reports whether the validator already has a recorded
// prepare response.
func (r *Round) HasResponse(index types.ValidatorIndex) bool {
	_, exists := r.prepareResponses[index]
	return exists
}

// HasCommit reports whether the validator already has a recorded commit.
func (r *Round) HasCommit(index types.ValidatorIndex) bool {
	_, exists := r.commits[index]
	return exists
}

// PrepareResponses returns a snapshot of the recorded responses.
func (r *Round) PrepareResponses() map[types.ValidatorIndex]*messages.PrepareResponse {
	out := make(map[types.ValidatorIndex]*messages.PrepareResponse, len(r.prepareResponses))
	for idx, resp := range r.prepareResponses {
		out[idx] = resp
	}
	return out
}

// Commits returns a snapshot of the recorded commits.
func (r *Round) Commits() map[types.ValidatorIndex]*messages.Commit {
	out := make(map[types.ValidatorIndex]*messages.Commit, len(r.commits))
	for idx, c := range r.commits {
		out[idx] = c
	}
	return out
}

// ChangeViews returns a snapshot of the recorded change view votes.
func (r *Round) ChangeViews() map[types.ValidatorIndex]*messages.ChangeView {
	out := make(map[types.ValidatorIndex]*messages.ChangeView, len(r.changeViews))
	for idx, cv := range r.changeViews {
		out[idx] = cv
	}
	return out
}

// ViewJustification returns a snapshot of the change view votes that moved
// the round into its current view. Empty at view 0.
func (r *Round) ViewJustification() map[types.ValidatorIndex]*messages.ChangeView {
	out := make(map[types.ValidatorIndex]*messages.ChangeView, len(r.viewJustification))
	for idx, cv := range r.viewJustification {
		out[idx] = cv
	}
	return out
}

// AdoptViewJustification records verified votes justifying the current
// view, keeping the first vote per validator index.
func (r *Round) AdoptViewJustification(votes map[types.ValidatorIndex]*messages.ChangeView) {
	for idx, cv := range votes {
		if _, exists := r.viewJustification[idx]; exists {
			continue
		}
		r.viewJustification[idx] = cv
	}
}

// ResetForView clears every tally and the active proposal and moves the
// round to the new view. The block index is preserved; this is the single
// mutation used on every view transition. Change view votes naming the new
// view or a higher one become its justification.
func (r *Round) ResetForView(newView types.ViewNumber) {
	justification := make(map[types.ValidatorIndex]*messages.ChangeView)
	for idx, cv := range r.changeViews {
		if cv.NewViewNumber >= newView {
			justification[idx] = cv
		}
	}
	r.viewNumber = newView
	r.prepareRequest = nil
	r.prepareResponses = make(map[types.ValidatorIndex]*messages.PrepareResponse)
	r.commits = make(map[types.ValidatorIndex]*messages.Commit)
	r.changeViews = make(map[types.ValidatorIndex]*messages.ChangeView)
	r.viewJustification = justification
}
