package handlers

import (
	"github.com/latoulicious/Resona/pkg/autoplay"
	"github.com/latoulicious/Resona/pkg/resilience"
	"github.com/latoulicious/Resona/pkg/transport"
)

// TransportEvents fans transport node events out to the resilience
// supervisor and queue-end events to the completion policy. The transport
// client needs a handler at construction time while the supervisor and
// policy need the client, so the fields are assigned after wiring; nil
// targets drop the event.
type TransportEvents struct {
	Supervisor *resilience.Supervisor
	Policy     *autoplay.Policy
}

var _ transport.EventHandler = (*TransportEvents)(nil)

func (e *TransportEvents) OnNodeConnect(nodeID string) {
	if e.Supervisor != nil {
		e.Supervisor.OnNodeConnect(nodeID)
	}
}

func (e *TransportEvents) OnNodeDisconnect(nodeID string, reason string) {
	if e.Supervisor != nil {
		e.Supervisor.OnNodeDisconnect(nodeID, reason)
	}
}

func (e *TransportEvents) OnNodeError(nodeID string, err error) {
	if e.Supervisor != nil {
		e.Supervisor.OnNodeError(nodeID, err)
	}
}

func (e *TransportEvents) OnQueueEnd(guildID string, lastTrack *transport.Track) {
	if e.Policy != nil {
		e.Policy.OnQueueEnd(guildID, lastTrack)
	}
}
