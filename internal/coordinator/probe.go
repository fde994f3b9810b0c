package coordinator

import (
	"context"
	"time"

	"github.com/danmuck/simctl/internal/observability"
	"github.com/danmuck/simctl/internal/protocol"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/rs/zerolog/log"
)

// ShouldStop decides whether a probe failure ends the probe loop. Only an
// interruption does; anything else is retried on the next tick.
func ShouldStop(err error) bool {
	return protocol.IsInterrupted(err)
}

func (c *RemoteClient) startProbe() {
	if c.pingInterval <= 0 {
		log.Debug().Msg("coordinator.RemoteClient.startProbe disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.probeLoop(ctx)
}

func (c *RemoteClient) probeLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	log.Debug().Dur("interval", c.pingInterval).Msg("coordinator.RemoteClient.probeLoop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, err := c.connector.Write(ctx, address.AllWorkers, operation.Ping{})
		switch {
		case err == nil:
			observability.RecordProbe(observability.ProbeOK)
		case ShouldStop(err):
			observability.RecordProbe(observability.ProbeInterrupted)
			log.Info().Err(err).Msg("coordinator.RemoteClient.probeLoop interrupted")
			return
		default:
			observability.RecordProbe(observability.ProbeError)
			log.Warn().Err(err).Msg("coordinator.RemoteClient.probeLoop ping failed")
		}
	}
}
