package types

// Committee is the ordered, fixed-size validator list with stable indices.
// It owns the primary rotation and quorum arithmetic and has no mutable
// state after construction.
type Committee struct {
	validators []PublicKey
}

// NewCommittee creates a committee from the ordered validator public keys.
// Construction fails with a Configuration error if the committee cannot
// satisfy n = 3f+1 or any key is empty.
func NewCommittee(validators []PublicKey) (*Committee, error) {
	n := len(validators)
	if n < 4 {
		return nil, NewConsensusErrorf(ErrorTypeConfiguration,
			"committee requires at least 4 validators, got %d", n)
	}
	if n%3 != 1 {
		return nil, NewConsensusErrorf(ErrorTypeConfiguration,
			"committee size must satisfy n = 3f+1, got %d", n)
	}
	for i, key := range validators {
		if len(key) == 0 {
			return nil, NewConsensusErrorf(ErrorTypeConfiguration,
				"empty public key for validator %d", i)
		}
	}

	// Keep a private copy so callers cannot mutate the ordering.
	keys := make([]PublicKey, n)
	copy(keys, validators)
	return &Committee{validators: keys}, nil
}

// ValidatorCount returns the committee size n.
func (c *Committee) ValidatorCount() int {
	return len(c.validators)
}

// ByzantineThreshold returns f = (n-1)/3.
func (c *Committee) ByzantineThreshold() int {
	return (len(c.validators) - 1) / 3
}

// RequiredSignatures returns n - f, the quorum needed to advance a phase.
func (c *Committee) RequiredSignatures() int {
	return len(c.validators) - c.ByzantineThreshold()
}

// PrimaryIndex returns the validator index acting as primary for the given
// view: view mod n.
func (c *Committee) PrimaryIndex(view ViewNumber) ValidatorIndex {
	return ValidatorIndex(int(view) % len(c.validators))
}

// IsPrimary reports whether the given validator is the primary for the view.
func (c *Committee) IsPrimary(index ValidatorIndex, view ViewNumber) bool {
	return index == c.PrimaryIndex(view)
}

// IsValidIndex reports whether the index addresses a committee member.
func (c *Committee) IsValidIndex(index ValidatorIndex) bool {
	return int(index) < len(c.validators)
}

// PublicKey returns the public key of the validator at the given index.
func (c *Committee) PublicKey(index ValidatorIndex) (PublicKey, error) {
	if !c.IsValidIndex(index) {
		return nil, NewConsensusErrorf(ErrorTypeInvalidValidator,
			"validator index %d out of range [0, %d)", index, len(c.validators))
	}
	return c.validators[index], nil
}
