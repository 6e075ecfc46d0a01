package validation

// ErrorKind identifies a kind of error. It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific RuleError.
const (
	// ErrNilBlock indicates no block was supplied.
	ErrNilBlock = ErrorKind("ErrNilBlock")

	// ErrHeightOutOfRange indicates the block height is further from the
	// local best height than the transfer window allows.
	ErrHeightOutOfRange = ErrorKind("ErrHeightOutOfRange")

	// ErrMissingFields indicates a header field is absent or malformed.
	ErrMissingFields = ErrorKind("ErrMissingFields")

	// ErrTimeTooNew indicates the block timestamp is more than one block
	// interval ahead of the local clock.
	ErrTimeTooNew = ErrorKind("ErrTimeTooNew")

	// ErrBlockTooBig indicates the encoded block exceeds types.MaxBlockSize.
	ErrBlockTooBig = ErrorKind("ErrBlockTooBig")

	// ErrGenesisBlock indicates an attempt to write a genesis block.
	ErrGenesisBlock = ErrorKind("ErrGenesisBlock")

	// ErrMissingBody indicates a block without transactions.
	ErrMissingBody = ErrorKind("ErrMissingBody")

	// ErrBadMerkleRoot indicates the body does not hash to the header's
	// merkle root.
	ErrBadMerkleRoot = ErrorKind("ErrBadMerkleRoot")

	// ErrVersionMismatch indicates the block version differs from genesis.
	ErrVersionMismatch = ErrorKind("ErrVersionMismatch")

	// ErrHighHash indicates the block does not hash to a value which is
	// lower than the declared target.
	ErrHighHash = ErrorKind("ErrHighHash")

	// ErrTxMissingFields indicates a transaction field is absent or
	// malformed.
	ErrTxMissingFields = ErrorKind("ErrTxMissingFields")

	// ErrTxVersion indicates an unsupported transaction version.
	ErrTxVersion = ErrorKind("ErrTxVersion")

	// ErrDepositAmount indicates a deposit carrying a nonzero amount.
	ErrDepositAmount = ErrorKind("ErrDepositAmount")

	// ErrMissingParent indicates the parent of the block is not stored.
	ErrMissingParent = ErrorKind("ErrMissingParent")

	// ErrBadProposer indicates the block was not produced by the proposer
	// elected for its time slot.
	ErrBadProposer = ErrorKind("ErrBadProposer")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation. It has full support for errors.Is
// and errors.As, so the caller can ascertain the specific reason for the
// error by checking the underlying error.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}
