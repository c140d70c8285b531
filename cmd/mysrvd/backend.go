package main

import (
	"sync"
	"sync/atomic"

	"github.com/taku-k/mysrv/mysqltype"
	"github.com/taku-k/mysrv/mysrv"
	"github.com/taku-k/mysrv/params"
)

// demoBackend answers every query with a single row from an in-memory
// key/value table, and supports exactly one prepared form: "SELECT value
// FROM kv WHERE key = ?". It exists to give mysrvd something to demo
// against go-sql-driver/mysql and other real clients; it is not a query
// engine.
type demoBackend struct {
	mysrv.DefaultBackend

	mu      sync.RWMutex
	table   map[string]string
	nextID  uint32
	schemas map[uint32]struct{}
}

func newDemoBackend() *demoBackend {
	return &demoBackend{
		table: map[string]string{
			"greeting": "hello from mysrvd",
		},
		schemas: make(map[uint32]struct{}),
	}
}

func (b *demoBackend) OnPrepare(query string, w *mysrv.StatementMetaWriter) error {
	id := atomic.AddUint32(&b.nextID, 1)
	return w.Reply(id,
		[]mysrv.Column{{Name: "key", Type: mysqltype.TypeVarString}},
		[]mysrv.Column{{Table: "kv", Name: "value", Type: mysqltype.TypeVarString}},
	)
}

func (b *demoBackend) OnExecute(_ uint32, ps []params.Param, w *mysrv.QueryResultWriter) error {
	cols := []mysrv.Column{{Table: "kv", Name: "value", Type: mysqltype.TypeVarString}}
	rw, err := w.Start(cols)
	if err != nil {
		return err
	}

	if len(ps) == 1 && !ps[0].Value.IsNull() {
		b.mu.RLock()
		v, ok := b.table[string(ps[0].Value.Bytes)]
		b.mu.RUnlock()
		if ok {
			if err := rw.WriteRow(v); err != nil {
				return err
			}
		}
	}
	return rw.Finish()
}

func (b *demoBackend) OnClose(uint32) {}

func (b *demoBackend) OnQuery(query string, w *mysrv.QueryResultWriter) error {
	cols := []mysrv.Column{
		{Table: "kv", Name: "key", Type: mysqltype.TypeVarString},
		{Table: "kv", Name: "value", Type: mysqltype.TypeVarString},
	}
	rw, err := w.Start(cols)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for k, v := range b.table {
		if err := rw.WriteRow(k, v); err != nil {
			return err
		}
	}
	return rw.Finish()
}
