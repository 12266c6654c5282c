// Package loopback is an in-memory display server. It implements the wire
// interfaces without sockets: clients issue requests by calling Request and
// every posted event is appended to the client's log.
package loopback

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
	"golang.org/x/sys/unix"
)

// displayObjectID is the id of wl_display in every client's object table.
const displayObjectID = 1

var (
	// ErrGlobalRemoved is returned when binding a global that no longer exists.
	ErrGlobalRemoved = errors.New("global removed")
	// ErrClientClosed is returned for requests on a disconnected client.
	ErrClientClosed = errors.New("client closed")
	// ErrIDInUse is returned when a new_id collides with a live object.
	ErrIDInUse = errors.New("object id in use")
)

// Event is one event posted to a client.
type Event struct {
	Client    uint32
	Object    uint32
	Interface string
	Opcode    uint16
	Args      []any
}

// MessageKind tells observed messages apart.
type MessageKind uint8

const (
	KindRequest MessageKind = iota + 1
	KindEvent
	KindError
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one request, event or protocol error seen by the display. Error
// messages carry the error code and text as their two arguments.
type Message struct {
	Kind      MessageKind
	Client    uint32
	Object    uint32
	Interface string
	Opcode    uint16
	Args      []any
}

// Error is a fatal protocol error posted to a client.
type Error struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("protocol error on object %d, code %d: %s", e.Object, e.Code, e.Message)
}

// Display implements wire.Display.
type Display struct {
	globals      []*Global
	clients      map[uint32]*Client
	nextClientID uint32
	destroy      signal.Signal[wire.Display]
	messages     signal.Signal[Message]
	destroyed    bool
}

// NewDisplay creates an empty display.
func NewDisplay() *Display {
	return &Display{
		clients:      make(map[uint32]*Client),
		nextClientID: 1,
	}
}

// CreateGlobal advertises a new global.
func (d *Display) CreateGlobal(iface string, version uint32, bind wire.BindFunc) (wire.Global, error) {
	if d.destroyed {
		return nil, fmt.Errorf("create global %s: display destroyed", iface)
	}
	if version == 0 || bind == nil {
		return nil, fmt.Errorf("create global %s: %w", iface, wire.ErrInvalidArgument)
	}
	g := &Global{display: d, iface: iface, version: version, bind: bind}
	d.globals = append(d.globals, g)
	logger.Debugf("loopback: global %s v%d advertised", iface, version)
	return g, nil
}

// AddDestroyListener subscribes fn to display teardown.
func (d *Display) AddDestroyListener(fn func(wire.Display)) *signal.Listener[wire.Display] {
	return d.destroy.Add(fn)
}

// Observe subscribes fn to every message crossing the display. Fd arguments
// are only valid for the duration of the call.
func (d *Display) Observe(fn func(Message)) *signal.Listener[Message] {
	return d.messages.Add(fn)
}

// Globals returns the advertised globals in creation order.
func (d *Display) Globals() []*Global {
	out := make([]*Global, len(d.globals))
	copy(out, d.globals)
	return out
}

// Global returns the first global advertising iface.
func (d *Display) Global(iface string) (*Global, bool) {
	for _, g := range d.globals {
		if g.iface == iface {
			return g, true
		}
	}
	return nil, false
}

// Connect opens a new client connection.
func (d *Display) Connect(name string) *Client {
	c := &Client{
		display: d,
		id:      d.nextClientID,
		name:    name,
		objects: make(map[uint32]*Resource),
		nextID:  displayObjectID + 1,
	}
	d.nextClientID++
	d.clients[c.id] = c
	return c
}

// Clients returns the connected clients ordered by id.
func (d *Display) Clients() []*Client {
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Destroy notifies destroy listeners once, then disconnects every client.
func (d *Display) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.destroy.Emit(d)
	for _, c := range d.Clients() {
		c.Close()
	}
	d.globals = nil
}

// Global implements wire.Global.
type Global struct {
	display *Display
	iface   string
	version uint32
	bind    wire.BindFunc
	removed bool
}

func (g *Global) Interface() string { return g.iface }
func (g *Global) Version() uint32   { return g.version }

// Destroy withdraws the global.
func (g *Global) Destroy() {
	if g.removed {
		return
	}
	g.removed = true
	globals := g.display.globals[:0]
	for _, other := range g.display.globals {
		if other != g {
			globals = append(globals, other)
		}
	}
	g.display.globals = globals
}

// Removed reports whether the global was withdrawn.
func (g *Global) Removed() bool { return g.removed }

// Client implements wire.Client.
type Client struct {
	display *Display
	id      uint32
	name    string
	objects map[uint32]*Resource
	nextID  uint32
	events  []Event
	errors  []Error
	closed  bool

	// CreateHook, when set, can veto resource creation to simulate
	// allocation failure.
	CreateHook func(iface string, id uint32) error
}

func (c *Client) ID() uint32      { return c.id }
func (c *Client) Name() string    { return c.name }
func (c *Client) Closed() bool    { return c.closed }
func (c *Client) Errors() []Error { return append([]Error(nil), c.errors...) }

// NewID allocates a client-side object id for a new_id argument.
func (c *Client) NewID() uint32 {
	for {
		id := c.nextID
		c.nextID++
		if _, used := c.objects[id]; !used {
			return id
		}
	}
}

// CreateResource creates a server-side object for a client-allocated id.
func (c *Client) CreateResource(iface string, version, id uint32) (wire.Resource, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.CreateHook != nil {
		if err := c.CreateHook(iface, id); err != nil {
			return nil, err
		}
	}
	if id == displayObjectID {
		return nil, fmt.Errorf("create %s@%d: %w", iface, id, ErrIDInUse)
	}
	if _, used := c.objects[id]; used {
		return nil, fmt.Errorf("create %s@%d: %w", iface, id, ErrIDInUse)
	}
	r := &Resource{client: c, id: id, iface: iface, version: version}
	c.objects[id] = r
	return r, nil
}

// PostNoMemory posts wl_display.error(no_memory).
func (c *Client) PostNoMemory() {
	c.postError(displayObjectID, "wl_display", wire.DisplayErrorNoMemory, "no memory")
}

// PostError posts a protocol error against resource.
func (c *Client) PostError(resource wire.Resource, code uint32, msg string) {
	var id uint32 = displayObjectID
	iface := "wl_display"
	if resource != nil {
		id = resource.ID()
		iface = resource.Interface()
	}
	c.postError(id, iface, code, msg)
}

func (c *Client) postError(id uint32, iface string, code uint32, msg string) {
	c.errors = append(c.errors, Error{Object: id, Code: code, Message: msg})
	c.display.messages.Emit(Message{
		Kind:      KindError,
		Client:    c.id,
		Object:    id,
		Interface: iface,
		Args:      []any{code, msg},
	})
}

// Bind binds global at version and returns the new resource.
func (c *Client) Bind(g *Global, version uint32) (*Resource, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	if g.removed {
		return nil, fmt.Errorf("bind %s: %w", g.iface, ErrGlobalRemoved)
	}
	if version == 0 || version > g.version {
		return nil, fmt.Errorf("bind %s v%d: %w", g.iface, version, wire.ErrInvalidArgument)
	}
	id := c.NewID()
	g.bind(c, version, id)
	r, ok := c.objects[id]
	if !ok {
		return nil, fmt.Errorf("bind %s: no resource created", g.iface)
	}
	return r, nil
}

// Object returns the live object with the given id.
func (c *Client) Object(id uint32) (*Resource, bool) {
	r, ok := c.objects[id]
	return r, ok
}

// Request dispatches a request on r. Argument and opcode errors are posted
// to the client as protocol errors and returned.
func (c *Client) Request(r *Resource, opcode uint16, args ...any) error {
	if c.closed {
		return ErrClientClosed
	}
	if r == nil || r.destroyed || r.client != c {
		return fmt.Errorf("request %d: %w", opcode, wire.ErrDestroyed)
	}
	c.display.messages.Emit(Message{
		Kind:      KindRequest,
		Client:    c.id,
		Object:    r.id,
		Interface: r.iface,
		Opcode:    opcode,
		Args:      args,
	})
	if r.handler == nil {
		return nil
	}
	err := r.handler.HandleRequest(r, opcode, wire.Args(args))
	switch {
	case err == nil:
	case errors.Is(err, wire.ErrInvalidArgument), errors.Is(err, wire.ErrUnknownOpcode):
		c.PostError(r, wire.DisplayErrorInvalidMethod, err.Error())
	default:
		c.PostError(r, wire.DisplayErrorImplementation, err.Error())
	}
	return err
}

// Events returns the events posted so far.
func (c *Client) Events() []Event {
	return append([]Event(nil), c.events...)
}

// TakeEvents returns the events posted so far and clears the log. The
// caller owns any Fd arguments in the returned events.
func (c *Client) TakeEvents() []Event {
	events := c.events
	c.events = nil
	return events
}

// Close disconnects the client, destroying its objects newest first.
func (c *Client) Close() {
	if c.closed {
		return
	}
	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		if r, ok := c.objects[id]; ok {
			r.Destroy()
		}
	}
	c.closed = true
	for _, ev := range c.events {
		closeFds(ev)
	}
	c.events = nil
	delete(c.display.clients, c.id)
}

func closeFds(ev Event) {
	for _, arg := range ev.Args {
		if fd, ok := arg.(wire.Fd); ok {
			_ = unix.Close(int(fd))
		}
	}
}

// Resource implements wire.Resource.
type Resource struct {
	client    *Client
	id        uint32
	iface     string
	version   uint32
	handler   wire.RequestHandler
	onDestroy func(wire.Resource)
	destroyed bool
}

func (r *Resource) ID() uint32                   { return r.id }
func (r *Resource) Interface() string            { return r.iface }
func (r *Resource) Version() uint32              { return r.version }
func (r *Resource) Client() wire.Client          { return r.client }
func (r *Resource) Destroyed() bool              { return r.destroyed }
func (r *Resource) Handler() wire.RequestHandler { return r.handler }

func (r *Resource) SetHandler(handler wire.RequestHandler, onDestroy func(wire.Resource)) {
	r.handler = handler
	r.onDestroy = onDestroy
}

// PostEvent appends an event to the client log. Fd arguments are duplicated
// so the receiver owns an independent descriptor.
func (r *Resource) PostEvent(opcode uint16, args ...any) error {
	if r.destroyed {
		return wire.ErrDestroyed
	}
	if r.client.closed {
		return ErrClientClosed
	}
	out := make([]any, len(args))
	for i, arg := range args {
		fd, ok := arg.(wire.Fd)
		if !ok {
			out[i] = arg
			continue
		}
		dup, err := unix.Dup(int(fd))
		if err != nil {
			closeFds(Event{Args: out[:i]})
			return fmt.Errorf("pass fd %d: %w", fd, err)
		}
		out[i] = wire.Fd(dup)
	}
	r.client.events = append(r.client.events, Event{
		Client:    r.client.id,
		Object:    r.id,
		Interface: r.iface,
		Opcode:    opcode,
		Args:      out,
	})
	r.client.display.messages.Emit(Message{
		Kind:      KindEvent,
		Client:    r.client.id,
		Object:    r.id,
		Interface: r.iface,
		Opcode:    opcode,
		Args:      out,
	})
	return nil
}

// Destroy removes the object from the client and runs its destroy callback.
func (r *Resource) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	delete(r.client.objects, r.id)
	if r.onDestroy != nil {
		r.onDestroy(r)
	}
}
