// Package exelet routes request messages to handler functions.
//
// Handlers are registered explicitly at startup, one per (instance type,
// message type) pair. A handler may declare a semver constraint on the core
// version it was written against; registration fails when the running
// version does not satisfy it.
package exelet

import (
	"context"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/st"
)

var (
	ErrNoHandler       = errors.New("no handler for message type")
	ErrDuplicate       = errors.New("handler already registered")
	ErrIncompatible    = errors.New("handler incompatible with core version")
	ErrUnauthenticated = errors.New("handler requires an authenticated connection")
)

// MessageType names a request or response payload, e.g. "st.snapshot".
type MessageType string

// Message is one request or response.
type Message struct {
	ID      string      `json:"id"`
	ReplyTo string      `json:"reply_to,omitempty"`
	Type    MessageType `json:"type"`
	Codec   string      `json:"codec,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
}

// NewMessage returns a message with a fresh id.
func NewMessage(t MessageType, payload []byte) Message {
	return Message{ID: uuid.NewString(), Type: t, Payload: payload}
}

// Reply returns a response to m with a fresh id.
func (m Message) Reply(t MessageType, payload []byte) Message {
	r := NewMessage(t, payload)
	r.ReplyTo = m.ID
	return r
}

// HandlerFunc handles one request and returns its response.
type HandlerFunc func(ctx context.Context, msg Message) (Message, error)

// AllInstances is the default instance set of a Handler.
var AllInstances = []st.InstanceType{st.InstanceAgent, st.InstanceClient, st.InstanceServer}

// Handler describes one registration.
type Handler struct {
	Type MessageType
	// Instances the handler is available on. Empty means AllInstances.
	Instances []st.InstanceType
	// Auth restricts the handler to authenticated connections.
	Auth bool
	// Requires is a semver constraint on the core version, e.g. ">= 0.3".
	Requires string
	Handle   HandlerFunc
}

type routeKey struct {
	instance st.InstanceType
	msg      MessageType
}

// Registry maps (instance type, message type) to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[routeKey]Handler
	version  *semver.Version
	logger   *zap.SugaredLogger
}

// NewRegistry creates a registry for the given core version. A version that
// is not valid semver (development builds) disables constraint checks.
func NewRegistry(coreVersion string, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = logger.ComponentLogger("exelet")
	}
	r := &Registry{
		handlers: make(map[routeKey]Handler),
		logger:   log,
	}
	v, err := semver.NewVersion(coreVersion)
	if err != nil {
		log.Debugw("Core version is not semver, handler constraints unchecked", "version", coreVersion)
	} else {
		r.version = v
	}
	return r
}

// Register adds h for each of its instance types. Nothing is registered
// when any pair is already taken or the version constraint fails.
func (r *Registry) Register(h Handler) error {
	if h.Type == "" || h.Handle == nil {
		return errors.New("handler needs a message type and a function")
	}
	if err := r.checkVersion(h); err != nil {
		return err
	}
	instances := h.Instances
	if len(instances) == 0 {
		instances = AllInstances
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inst := range instances {
		if _, exists := r.handlers[routeKey{inst, h.Type}]; exists {
			return errors.Wrapf(ErrDuplicate, "%s on %s", h.Type, inst)
		}
	}
	for _, inst := range instances {
		r.handlers[routeKey{inst, h.Type}] = h
	}
	r.logger.Debugw("Registered exelet handler",
		logger.FieldMessageType, string(h.Type),
		"instances", instances,
		"auth", h.Auth,
	)
	return nil
}

func (r *Registry) checkVersion(h Handler) error {
	if h.Requires == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(h.Requires)
	if err != nil {
		return errors.Wrapf(err, "invalid version constraint %q for %s", h.Requires, h.Type)
	}
	if r.version == nil {
		return nil
	}
	if !constraint.Check(r.version) {
		return errors.Wrapf(ErrIncompatible, "%s requires %s, running %s", h.Type, h.Requires, r.version)
	}
	return nil
}

// Unregister removes the message type from every instance type and reports
// how many routes were removed.
func (r *Registry) Unregister(t MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.handlers {
		if k.msg == t {
			delete(r.handlers, k)
			n++
		}
	}
	return n
}

// Types lists the message types routed for an instance type, sorted.
func (r *Registry) Types(instance st.InstanceType) []MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []MessageType
	for k := range r.handlers {
		if k.instance == instance {
			out = append(out, k.msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch routes msg to the handler registered for instance.
func (r *Registry) Dispatch(ctx context.Context, instance st.InstanceType, msg Message) (Message, error) {
	r.mu.RLock()
	h, ok := r.handlers[routeKey{instance, msg.Type}]
	r.mu.RUnlock()

	if !ok {
		return Message{}, errors.Wrapf(ErrNoHandler, "%s on %s", msg.Type, instance)
	}
	if h.Auth && !Authenticated(ctx) {
		return Message{}, errors.Wrapf(ErrUnauthenticated, "%s", msg.Type)
	}

	log := logger.FromContext(ctx, r.logger)
	resp, err := h.Handle(ctx, msg)
	if err != nil {
		log.Warnw("Exelet handler failed",
			logger.FieldMessageType, string(msg.Type),
			"id", msg.ID,
			logger.FieldError, err,
		)
		return Message{}, errors.Wrapf(err, "handle %s", msg.Type)
	}
	return resp, nil
}

type authKey struct{}

// WithAuthenticated marks ctx as belonging to an authenticated connection.
func WithAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, authKey{}, true)
}

// Authenticated reports whether ctx was marked by WithAuthenticated.
func Authenticated(ctx context.Context) bool {
	v, _ := ctx.Value(authKey{}).(bool)
	return v
}
