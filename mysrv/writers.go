package mysrv

import (
	"fmt"

	"github.com/taku-k/mysrv/mysqltype"
	"github.com/taku-k/mysrv/packet"
	"github.com/taku-k/mysrv/wire"
)

// errUsed is returned by any writer method called after the handle's
// terminal method already ran — the move-only/linear-use discipline of
// spec.md §9, enforced at runtime since Go has no borrow checker.
var errUsed = fmt.Errorf("mysrv: writer handle already consumed")

// StatementMetaWriter is consumed by a Backend's OnPrepare callback
// (spec.md §4.8).
type StatementMetaWriter struct {
	writer *packet.Writer
	stmts  map[uint32]*statementData
	query  string
	used   bool
}

// Reply registers stmtID in the statement table and emits the prepare
// response: an OK-style header followed by the parameter and result
// column definitions (each terminated by EOF if non-empty).
func (w *StatementMetaWriter) Reply(stmtID uint32, paramCols, resultCols []Column) error {
	if w.used {
		return errUsed
	}
	w.used = true

	var buf []byte
	buf = append(buf, 0x00)
	buf = append(buf, byte(stmtID), byte(stmtID>>8), byte(stmtID>>16), byte(stmtID>>24))
	buf = append(buf, byte(len(resultCols)), byte(len(resultCols)>>8))
	buf = append(buf, byte(len(paramCols)), byte(len(paramCols)>>8))
	buf = append(buf, 0x00)       // filler
	buf = append(buf, 0x00, 0x00) // warnings
	w.writer.Write(buf)

	for _, c := range paramCols {
		w.writer.Write(wire.PutColumnDefinition(nil, c))
	}
	if len(paramCols) > 0 {
		w.writer.Write(wire.PutEOF(nil, 0, 0))
	}
	for _, c := range resultCols {
		w.writer.Write(wire.PutColumnDefinition(nil, c))
	}
	if len(resultCols) > 0 {
		w.writer.Write(wire.PutEOF(nil, 0, 0))
	}

	w.stmts[stmtID] = &statementData{paramCount: len(paramCols), resultCols: resultCols, query: w.query}
	return nil
}

// Error emits an ERR packet in place of a successful prepare reply.
func (w *StatementMetaWriter) Error(code mysqltype.ErrorCode, msg string) error {
	if w.used {
		return errUsed
	}
	w.used = true
	w.writer.Write(wire.PutERR(nil, code, msg))
	return nil
}

// QueryResultWriter replies to a QUERY or EXECUTE command (spec.md §4.8).
// binary selects the row encoding used by Start's returned RowWriter.
type QueryResultWriter struct {
	writer *packet.Writer
	binary bool
	used   bool
}

func newQueryResultWriter(w *packet.Writer, binary bool) *QueryResultWriter {
	return &QueryResultWriter{writer: w, binary: binary}
}

// Start writes the column-definition packets and trailing EOF, then
// returns a RowWriter for the caller to stream rows through.
func (w *QueryResultWriter) Start(cols []Column) (*RowWriter, error) {
	if w.used {
		return nil, errUsed
	}
	w.used = true

	w.writer.Write(wire.PutLenEncInt(nil, uint64(len(cols))))
	for _, c := range cols {
		w.writer.Write(wire.PutColumnDefinition(nil, c))
	}
	w.writer.Write(wire.PutEOF(nil, 0, 0))

	return &RowWriter{writer: w.writer, cols: cols, binary: w.binary}, nil
}

// Completed reports a successful command that produced no result set.
func (w *QueryResultWriter) Completed(affectedRows, lastInsertID uint64) error {
	if w.used {
		return errUsed
	}
	w.used = true
	w.writer.Write(wire.PutOK(nil, affectedRows, lastInsertID, 0, 0))
	return nil
}

// Error emits an ERR packet.
func (w *QueryResultWriter) Error(code mysqltype.ErrorCode, msg string) error {
	if w.used {
		return errUsed
	}
	w.used = true
	w.writer.Write(wire.PutERR(nil, code, msg))
	return nil
}

// RowWriter streams a result set's rows, returned by QueryResultWriter.Start.
type RowWriter struct {
	writer *packet.Writer
	cols   []Column
	binary bool

	row  *wire.RowBuilder
	done bool
}

// WriteCol writes the next column value of the row currently being built,
// starting a new row builder on the first call after the previous row (if
// any) was completed with EndRow.
func (w *RowWriter) WriteCol(v any) error {
	if w.done {
		return errUsed
	}
	if w.row == nil {
		w.row = wire.NewRowBuilder(w.cols, w.binary)
	}
	return w.row.WriteCol(v)
}

// EndRow finalizes the row started by prior WriteCol calls and queues its
// bytes as a single packet.
func (w *RowWriter) EndRow() error {
	if w.done {
		return errUsed
	}
	if w.row == nil {
		return fmt.Errorf("mysrv: EndRow called with no columns written")
	}
	row, err := w.row.Finish()
	if err != nil {
		return err
	}
	w.writer.Write(row)
	w.row = nil
	return nil
}

// WriteRow writes every value in vs as one row (WriteCol + EndRow).
func (w *RowWriter) WriteRow(vs ...any) error {
	for _, v := range vs {
		if err := w.WriteCol(v); err != nil {
			return err
		}
	}
	return w.EndRow()
}

// Finish emits the trailing EOF packet that terminates the result set.
// Calling it with a partially-written row (WriteCol called but not EndRow)
// is an error.
func (w *RowWriter) Finish() error {
	if w.done {
		return errUsed
	}
	if w.row != nil {
		return fmt.Errorf("mysrv: Finish called with an unfinished row")
	}
	w.done = true
	w.writer.Write(wire.PutEOF(nil, 0, 0))
	return nil
}

// InitWriter replies to an INIT_DB (or USE-schema) request (spec.md §4.8).
type InitWriter struct {
	writer *packet.Writer
	used   bool
}

// OK emits an OK packet.
func (w *InitWriter) OK() error {
	if w.used {
		return errUsed
	}
	w.used = true
	w.writer.Write(wire.PutOK(nil, 0, 0, 0, 0))
	return nil
}

// Error emits an ERR packet.
func (w *InitWriter) Error(code mysqltype.ErrorCode, msg string) error {
	if w.used {
		return errUsed
	}
	w.used = true
	w.writer.Write(wire.PutERR(nil, code, msg))
	return nil
}
