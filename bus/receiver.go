package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/c360/reliabus/errors"
)

// Receiver merges messages from several subjects into one channel
type Receiver struct {
	ch       chan *nats.Msg
	subjects []string
	opts     options
}

// NewReceiver subscribes to every subject. Messages arriving while the
// buffer is full are dropped by the client library and reported as a slow
// consumer.
func NewReceiver(conn Conn, subjects []string, opts ...Option) (*Receiver, error) {
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Receiver", "NewReceiver", "check connection")
	}
	if len(subjects) == 0 {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Receiver", "NewReceiver", "check subjects")
	}

	r := &Receiver{
		subjects: append([]string(nil), subjects...),
		opts:     buildOptions("bus.receiver", opts),
	}
	r.ch = make(chan *nats.Msg, r.opts.bufferSize)

	for _, subject := range r.subjects {
		if err := conn.ChanSubscribe(subject, r.ch); err != nil {
			return nil, errors.Wrap(err, "Receiver", "NewReceiver", fmt.Sprintf("subscribe %s", subject))
		}
		r.opts.logger.Debug("subscribed", "subject", subject)
	}
	r.opts.logger.Info("receiving", "subjects", r.subjects)

	return r, nil
}

// Subjects returns the subscribed subjects
func (r *Receiver) Subjects() []string {
	return append([]string(nil), r.subjects...)
}

// Receive blocks until a frame arrives or ctx is done
func (r *Receiver) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-r.ch:
		if r.opts.metrics != nil {
			r.opts.metrics.RecordReceived(msg.Subject)
		}
		return msg.Data, nil
	}
}
