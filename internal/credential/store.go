package credential

// DefaultFileName is the credential file name inside a user directory.
const DefaultFileName = "credentials.json"

// Mutator changes a record in place during Update. Returning an error aborts
// the update and leaves the stored record untouched.
type Mutator func(*Record) error

// Store is the durable per-user credential record store.
type Store interface {
	// Create stores a fresh record for userID, or returns the existing one
	// unchanged. created reports which happened.
	Create(userID, apiID int64, apiHash, phone string) (rec *Record, created bool, err error)

	// Read returns the record for userID, or an error matching
	// errors.ErrNotFound.
	Read(userID int64) (*Record, error)

	// Update applies mutate to the current record atomically with respect
	// to other updates for the same user and returns the stored result.
	Update(userID int64, mutate Mutator) (*Record, error)

	// ListAll returns every user id with a stored record, ascending.
	ListAll() ([]int64, error)

	// Dir returns the working directory for userID's worker.
	Dir(userID int64) string
}
