package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/mq"
)

// VU is the scripting surface for one virtual user. It carries the manager,
// executor and connection settings of its run and caches the VU's
// connection between iterations.
type VU struct {
	id    int
	owner string
	coord *Coordinator
	log   logrus.FieldLogger
	conn  *mq.Connection
}

func (v *VU) ID() int { return v.id }

// Owner is the name the connection manager tracks this VU's connection under.
func (v *VU) Owner() string { return v.owner }

func (v *VU) Logger() logrus.FieldLogger { return v.log }

// Config returns the connection settings of the run.
func (v *VU) Config() mq.ConnectionConfig { return v.coord.cfg }

// Connect opens a fresh connection, replacing the VU's current one.
func (v *VU) Connect(ctx context.Context) (*mq.Connection, error) {
	conn, err := v.coord.mgr.Connect(ctx, v.owner, v.coord.cfg)
	if err != nil {
		v.conn = nil
		return nil, err
	}
	v.conn = conn
	return conn, nil
}

// Connection returns the VU's connection, connecting on first use or after
// the previous one was closed. A failed connection is returned unchanged;
// call Connect to replace it.
func (v *VU) Connection(ctx context.Context) (*mq.Connection, error) {
	if v.conn != nil && v.conn.State() != mq.Closed {
		return v.conn, nil
	}
	conn, err := v.coord.mgr.Acquire(ctx, v.owner, v.coord.cfg)
	if err != nil {
		v.conn = nil
		return nil, err
	}
	v.conn = conn
	return conn, nil
}

// Write puts msg on the configured queue.
func (v *VU) Write(ctx context.Context, msg mq.Message) (mq.OperationResult, error) {
	conn, err := v.Connection(ctx)
	if err != nil {
		return unconnected(ctx, mq.OpWrite, err), err
	}
	return v.coord.exec.Write(ctx, conn, msg)
}

// Read gets a message from the reply queue, waiting up to wait. A zero wait
// uses the connection's operation timeout; a negative one does not wait.
func (v *VU) Read(ctx context.Context, wait time.Duration) (mq.OperationResult, error) {
	conn, err := v.Connection(ctx)
	if err != nil {
		return unconnected(ctx, mq.OpRead, err), err
	}
	return v.coord.exec.Read(ctx, conn, wait)
}

// unconnected is the result of an operation that never reached the broker
// because no connection could be had. Like an operation refused for the
// connection's state it carries ProtocolError, or Cancelled once ctx ended.
func unconnected(ctx context.Context, op mq.Operation, err error) mq.OperationResult {
	res := mq.OperationResult{Op: op, Outcome: mq.ProtocolError, Err: err}
	if ctx.Err() != nil {
		res.Outcome = mq.Cancelled
	}
	return res
}

// Close releases the VU's connection, if any.
func (v *VU) Close() error {
	if v.conn == nil {
		return nil
	}
	conn := v.conn
	v.conn = nil
	return v.coord.mgr.Close(conn)
}
