package server

import (
	"errors"
	"fmt"

	"github.com/aeolun/wirehub/pkg/protocol"
)

// Outcome is the result of a successful handler invocation.
type Outcome int

const (
	// OutcomeBroadcast fans the scrubbed envelope out to every
	// authenticated session.
	OutcomeBroadcast Outcome = iota
	// OutcomeReplied means the handler already delivered a direct
	// reply; nothing is broadcast.
	OutcomeReplied
)

// Handler implements one named command. Handlers are stateless
// templates: a fresh instance is created per message, bound to the
// originating session through its HandlerContext. A nil error with
// OutcomeBroadcast triggers fan-out; any error suppresses it.
type Handler interface {
	// Command returns the self-declared command name.
	Command() string
	// Process runs the command against the scrubbed envelope. The
	// envelope never carries a token at this point.
	Process(env *protocol.Envelope) (Outcome, error)
}

// HandlerContext binds a per-message handler instance to its session
// and collaborators.
type HandlerContext struct {
	Session *Session
	Hub     *Hub
	Store   DataStore

	// IdentityField is the payload key under which handlers expose
	// record identity, configurable per deployment.
	IdentityField string
}

// HandlerFactory creates a handler instance for one message.
type HandlerFactory func(ctx HandlerContext) Handler

// ErrDuplicateCommand indicates two factories declared the same name.
var ErrDuplicateCommand = errors.New("command already registered")

// CommandRegistry maps command names to handler factories. It is built
// once at startup and read-only afterwards, so lookups need no
// synchronization.
type CommandRegistry struct {
	factories map[string]HandlerFactory
}

// NewCommandRegistry creates an empty command registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register records a factory under the command name its handler
// declares. The factory is instantiated once, with an empty context,
// purely to read the name. Must only be called before the server
// starts serving connections.
func (r *CommandRegistry) Register(factory HandlerFactory) error {
	name := factory(HandlerContext{}).Command()
	if name == "" {
		return errors.New("handler declares an empty command name")
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.factories[name] = factory
	return nil
}

// Lookup resolves a command name to its factory.
func (r *CommandRegistry) Lookup(name string) (HandlerFactory, bool) {
	factory, ok := r.factories[name]
	return factory, ok
}

// Commands returns the number of registered commands.
func (r *CommandRegistry) Commands() int {
	return len(r.factories)
}
