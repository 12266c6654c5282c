// Package wire defines the display-server object model consumed by protocol
// implementations: globals, clients, client-owned resources and typed
// request arguments. Message framing lives behind these interfaces.
package wire

import (
	"errors"
	"fmt"

	"github.com/bnema/wayime/internal/signal"
)

// Core display error codes (wl_display.error).
const (
	DisplayErrorInvalidObject  uint32 = 0
	DisplayErrorInvalidMethod  uint32 = 1
	DisplayErrorNoMemory       uint32 = 2
	DisplayErrorImplementation uint32 = 3
)

// Keymap formats (wl_keyboard.keymap_format).
const (
	KeymapFormatNoKeymap uint32 = 0
	KeymapFormatXKBV1    uint32 = 1
)

var (
	// ErrInvalidArgument is returned when a request argument has the wrong type.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownOpcode is returned for an opcode the interface does not define.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrDestroyed is returned when posting to a destroyed resource.
	ErrDestroyed = errors.New("resource destroyed")
)

// Fd marks a file descriptor argument. The receiver gets its own copy; the
// sender keeps ownership of the original.
type Fd int

// BindFunc is called when a client binds a global.
type BindFunc func(client Client, version, id uint32)

// Display owns globals and announces its own teardown.
type Display interface {
	CreateGlobal(iface string, version uint32, bind BindFunc) (Global, error)
	AddDestroyListener(fn func(Display)) *signal.Listener[Display]
}

// Global is an advertised capability.
type Global interface {
	Interface() string
	Version() uint32
	Destroy()
}

// Client is one connection to the display.
type Client interface {
	ID() uint32
	CreateResource(iface string, version, id uint32) (Resource, error)
	PostNoMemory()
	PostError(resource Resource, code uint32, msg string)
}

// RequestHandler receives the requests issued on a resource.
type RequestHandler interface {
	HandleRequest(resource Resource, opcode uint16, args Args) error
}

// Resource is a protocol object owned by a client.
type Resource interface {
	ID() uint32
	Interface() string
	Version() uint32
	Client() Client
	// SetHandler installs the request handler and the callback run once when
	// the resource is destroyed.
	SetHandler(handler RequestHandler, onDestroy func(Resource))
	PostEvent(opcode uint16, args ...any) error
	Destroy()
}

// Args are the decoded arguments of one request.
type Args []any

func (a Args) arg(i int) (any, error) {
	if i < 0 || i >= len(a) {
		return nil, fmt.Errorf("argument %d missing: %w", i, ErrInvalidArgument)
	}
	return a[i], nil
}

// Uint32 returns argument i as a uint32.
func (a Args) Uint32(i int) (uint32, error) {
	v, err := a.arg(i)
	if err != nil {
		return 0, err
	}
	u, ok := v.(uint32)
	if !ok {
		return 0, fmt.Errorf("argument %d is %T, want uint32: %w", i, v, ErrInvalidArgument)
	}
	return u, nil
}

// Int32 returns argument i as an int32.
func (a Args) Int32(i int) (int32, error) {
	v, err := a.arg(i)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int32)
	if !ok {
		return 0, fmt.Errorf("argument %d is %T, want int32: %w", i, v, ErrInvalidArgument)
	}
	return n, nil
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	v, err := a.arg(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %d is %T, want string: %w", i, v, ErrInvalidArgument)
	}
	return s, nil
}

// Object returns argument i as a resource. A nil resource is rejected.
func (a Args) Object(i int) (Resource, error) {
	v, err := a.arg(i)
	if err != nil {
		return nil, err
	}
	r, ok := v.(Resource)
	if !ok || r == nil {
		return nil, fmt.Errorf("argument %d is %T, want object: %w", i, v, ErrInvalidArgument)
	}
	return r, nil
}
