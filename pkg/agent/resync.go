package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/coordination"
	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
)

// ResyncListener reacts to coordination connection state transitions. A
// regained session may have missed registry updates, so Reconnected forces
// a full resync. Suspended and Lost are logged only.
//
// OnStateChange runs on the coordination client's dispatch goroutine and
// must not block it: the resync itself runs on this listener's worker.
type ResyncListener struct {
	resync func()
	logger *zap.Logger

	ch       chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewResyncListener creates the listener and starts its worker goroutine.
func NewResyncListener(resync func(), logger *zap.Logger) *ResyncListener {
	l := &ResyncListener{
		resync: resync,
		logger: logger,
		ch:     make(chan struct{}, 16),
		done:   make(chan struct{}),
	}
	go l.worker()
	return l
}

// OnStateChange is the listener subscribed to the coordination client.
func (l *ResyncListener) OnStateChange(state coordination.ConnectionState) {
	observability.ConnectionStateChangesTotal.WithLabelValues(state.String()).Inc()

	switch state {
	case coordination.StateReconnected:
		l.logger.Info("Coordination session reconnected, scheduling full resync")
		select {
		case l.ch <- struct{}{}:
		default:
			l.logger.Warn("Resync queue full, dropping resync request")
		}
	case coordination.StateSuspended:
		l.logger.Warn("Coordination session suspended")
	case coordination.StateLost:
		l.logger.Warn("Coordination session lost")
	case coordination.StateConnected:
		l.logger.Info("Coordination session connected")
	}
}

// Stop ends the worker goroutine. Queued resyncs are dropped.
func (l *ResyncListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

func (l *ResyncListener) worker() {
	for {
		select {
		case <-l.ch:
			observability.ResyncsTotal.Inc()
			l.resync()
		case <-l.done:
			return
		}
	}
}
