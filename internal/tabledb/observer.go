// Notifies interested parties of persisted database changes.

package tabledb

// Op is the kind of a persisted change.
type Op string

// Operations reported to observers.
const (
	OpCreateTable Op = "create-table"
	OpDropTable   Op = "drop-table"
	OpImportTable Op = "import-table"
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpSave        Op = "save"
)

// Change describes one persisted mutation. Key is empty for table level
// operations and explicit saves.
type Change struct {
	Op    Op
	Table string
	Key   Key
}

func (c Change) String() string {
	s := string(c.Op)
	if c.Table != "" {
		s += " " + c.Table
	}
	if c.Key != "" {
		s += "/" + string(c.Key)
	}
	return s
}

// Observer is notified after a change has been written to the database file.
//
// The change is already durable when OnChange runs; a returned error is logged
// and does not undo it.
type Observer interface {
	OnChange(path string, c Change) error
}
