package model

// RuntimeEvent is one line of `docker events --format '{{json .}}'`.
type RuntimeEvent struct {
	Type     string     `json:"Type"`
	Action   string     `json:"Action"`
	Actor    EventActor `json:"Actor"`
	Scope    string     `json:"scope,omitempty"`
	Status   string     `json:"status,omitempty"`
	Time     int64      `json:"time"`
	TimeNano int64      `json:"timeNano"`
}

type EventActor struct {
	ID         string            `json:"ID"`
	Attributes map[string]string `json:"Attributes"`
}

// ForwardedEvent is the docker_event payload body. Attributes holds either the
// raw actor attributes or, for "create", a ContainerDescriptor.
type ForwardedEvent struct {
	Event      string `json:"event"`
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes any    `json:"attributes"`
}

func NewForwardedEvent(e RuntimeEvent) ForwardedEvent {
	attrs := e.Actor.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return ForwardedEvent{
		Event:      e.Action,
		Type:       e.Type,
		ID:         e.Actor.ID,
		Attributes: attrs,
	}
}
