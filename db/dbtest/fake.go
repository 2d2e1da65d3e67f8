// Package dbtest provides in-memory stand-ins for the pgx pool and
// transaction so services can be exercised against fake repositories.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out Tx values and records them for assertions.
type Pool struct {
	mu       sync.Mutex
	BeginErr error
	Txs      []*Tx
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &Tx{}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Committed counts committed transactions.
func (p *Pool) Committed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tx := range p.Txs {
		if tx.Committed {
			n++
		}
	}
	return n
}

func (p *Pool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("dbtest: Pool.Exec not implemented")
}

func (p *Pool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("dbtest: Pool.Query not implemented")
}

func (p *Pool) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("dbtest: Pool.QueryRow not implemented")
}

// Tx tracks commit and rollback calls.
type Tx struct {
	Committed  bool
	RolledBack bool
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("dbtest: nested transactions not supported")
}

func (f *Tx) Commit(context.Context) error {
	f.Committed = true
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if !f.Committed {
		f.RolledBack = true
	}
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *Tx) Conn() *pgx.Conn {
	return nil
}

// Outbox collects enqueued messages.
type Outbox struct {
	mu       sync.Mutex
	Messages []Message
	Err      error
}

// Message is one recorded outbox write.
type Message struct {
	TenantID string
	Topic    string
	Key      string
	Payload  map[string]any
}

func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error {
	if o.Err != nil {
		return o.Err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Messages = append(o.Messages, Message{TenantID: tenantID, Topic: topic, Key: key, Payload: payload})
	return nil
}

// Topics lists recorded topics in order.
func (o *Outbox) Topics() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.Messages))
	for _, m := range o.Messages {
		out = append(out, m.Topic)
	}
	return out
}
