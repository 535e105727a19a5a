package tabledb

import "errors"

// Errors reported by tables and databases. Detailed errors wrap one of these;
// test with errors.Is.
var (
	ErrTableExists   = errors.New("table already exists")
	ErrTableNotFound = errors.New("table not found")
	ErrKeyExists     = errors.New("key already exists")
	ErrKeyNotFound   = errors.New("key not found")
	ErrArityMismatch = errors.New("value count does not match column count")
	ErrTypeMismatch  = errors.New("value type does not match column type")
	ErrInvalidSchema = errors.New("invalid schema")
	ErrEncode        = errors.New("failed to encode database")
	ErrDecode        = errors.New("failed to decode database")
)
