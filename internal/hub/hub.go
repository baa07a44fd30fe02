package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"messaging-service/internal/observability"
)

// Sink is a live connection that can receive events.
type Sink interface {
	ConnID() string
	UserID() int64
	// Send queues payload without blocking and reports whether it was accepted.
	Send(payload []byte) bool
}

// Broadcaster is the group fan-out used by the messaging core.
type Broadcaster interface {
	Subscribe(ctx context.Context, group string, sink Sink) error
	Unsubscribe(ctx context.Context, group string, sink Sink) error
	Publish(ctx context.Context, group string, event any, opts ...PublishOption) error
}

// Envelope is one event addressed to a group.
type Envelope struct {
	Group         string          `json:"group"`
	Payload       json.RawMessage `json:"payload"`
	ExcludeUserID int64           `json:"exclude_user_id,omitempty"`
	ExcludeConnID string          `json:"exclude_conn_id,omitempty"`
}

// PublishOption adjusts the recipients of a publish.
type PublishOption func(*Envelope)

// ExcludeUser skips every connection of userID.
func ExcludeUser(userID int64) PublishOption {
	return func(e *Envelope) { e.ExcludeUserID = userID }
}

// ExcludeConn skips the connection with connID.
func ExcludeConn(connID string) PublishOption {
	return func(e *Envelope) { e.ExcludeConnID = connID }
}

// NewEnvelope marshals event for group.
func NewEnvelope(group string, event any, opts ...PublishOption) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event: %w", err)
	}
	env := Envelope{Group: group, Payload: payload}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// UserGroup is the personal notification group of a user.
func UserGroup(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ConversationGroup is the real-time group of a conversation.
func ConversationGroup(conversationID string) string {
	return "conversation:" + conversationID
}

func groupKind(group string) string {
	if i := strings.IndexByte(group, ':'); i > 0 {
		return group[:i]
	}
	return "unknown"
}

// Hub maintains the in-process group table.
type Hub struct {
	groups map[string]map[Sink]struct{}
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[Sink]struct{})}
}

// Add registers sink in group and reports whether it is the group's first member.
func (h *Hub) Add(group string, sink Sink) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[Sink]struct{})
		h.groups[group] = members
	}
	members[sink] = struct{}{}
	return !ok
}

// Remove unregisters sink from group and reports whether the group became empty.
func (h *Hub) Remove(group string, sink Sink) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return false
	}
	if _, present := members[sink]; !present {
		return false
	}
	delete(members, sink)
	if len(members) == 0 {
		delete(h.groups, group)
		return true
	}
	return false
}

// Deliver hands env to every local member of its group and returns the number
// of sinks that accepted it.
func (h *Hub) Deliver(env Envelope) int {
	h.mu.RLock()
	members := h.groups[env.Group]
	sinks := make([]Sink, 0, len(members))
	for sink := range members {
		sinks = append(sinks, sink)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sink := range sinks {
		if env.ExcludeConnID != "" && sink.ConnID() == env.ExcludeConnID {
			continue
		}
		if env.ExcludeUserID != 0 && sink.UserID() == env.ExcludeUserID {
			continue
		}
		if sink.Send(env.Payload) {
			delivered++
		} else {
			observability.IncBroadcastDropped(groupKind(env.Group))
		}
	}
	observability.IncBroadcast(groupKind(env.Group))
	return delivered
}

// Members returns the number of local members of group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Groups returns the names of all groups with local members, sorted.
func (h *Hub) Groups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe implements Broadcaster.
func (h *Hub) Subscribe(_ context.Context, group string, sink Sink) error {
	h.Add(group, sink)
	return nil
}

// Unsubscribe implements Broadcaster.
func (h *Hub) Unsubscribe(_ context.Context, group string, sink Sink) error {
	h.Remove(group, sink)
	return nil
}

// Publish implements Broadcaster for a single instance.
func (h *Hub) Publish(_ context.Context, group string, event any, opts ...PublishOption) error {
	env, err := NewEnvelope(group, event, opts...)
	if err != nil {
		return err
	}
	h.Deliver(env)
	return nil
}

var _ Broadcaster = (*Hub)(nil)
