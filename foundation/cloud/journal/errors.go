package journal

import "errors"

// Set of errors the journal returns.
var (
	ErrCompromised   = errors.New("cloud compromised: equivocation detected")
	ErrNotKeyHolder  = errors.New("operation requires the cloud root secret")
	ErrNotFound      = errors.New("mutation not found")
	ErrSaltReuse     = errors.New("salt already used in this journal")
	ErrInvalidChain  = errors.New("invalid chain")
	ErrEndOfJournal  = errors.New("end of journal")
	ErrWrongRootKey  = errors.New("root secret does not own this cloud")
	ErrCorruptRecord = errors.New("stored mutation failed verification")
)
