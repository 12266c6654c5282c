// Package seat models a wl_seat with a single logical keyboard: per-client
// seat bindings, keyboard focus, and the keyboard grab slot through which
// every key and modifier event is routed.
package seat

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/shm"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
	"golang.org/x/sys/unix"
)

// Protocol interface names.
const (
	SeatInterface     = "wl_seat"
	KeyboardInterface = "wl_keyboard"

	seatVersion = 7
)

// wl_seat requests
const (
	seatRequestGetPointer  = 0
	seatRequestGetKeyboard = 1
	seatRequestGetTouch    = 2
	seatRequestRelease     = 3
)

// wl_seat events
const (
	seatEventCapabilities = 0
	seatEventName         = 1
)

// wl_keyboard requests/events
const (
	keyboardRequestRelease = 0

	keyboardEventKeymap     = 0
	keyboardEventKey        = 3
	keyboardEventModifiers  = 4
	keyboardEventRepeatInfo = 5
)

var eventNames = map[string][]string{
	SeatInterface:     {"capabilities", "name"},
	KeyboardInterface: {"keymap", "enter", "leave", "key", "modifiers", "repeat_info"},
}

var requestNames = map[string][]string{
	SeatInterface:     {"get_pointer", "get_keyboard", "get_touch", "release"},
	KeyboardInterface: {"release"},
}

// EventName returns the protocol name of a wl_seat or wl_keyboard event.
func EventName(iface string, opcode uint16) string {
	return lookupName(eventNames, iface, opcode)
}

// RequestName returns the protocol name of a wl_seat or wl_keyboard request.
func RequestName(iface string, opcode uint16) string {
	return lookupName(requestNames, iface, opcode)
}

// RequestOpcode is the inverse of RequestName.
func RequestOpcode(iface, name string) (uint16, bool) {
	for opcode, n := range requestNames[iface] {
		if n == name {
			return uint16(opcode), true
		}
	}
	return 0, false
}

func lookupName(table map[string][]string, iface string, opcode uint16) string {
	names, ok := table[iface]
	if !ok || int(opcode) >= len(names) {
		return fmt.Sprintf("opcode_%d", opcode)
	}
	return names[opcode]
}

// Capabilities (wl_seat.capability)
const (
	CapabilityPointer  uint32 = 1
	CapabilityKeyboard uint32 = 2
	CapabilityTouch    uint32 = 4
)

// ErrNotSeat is returned when a resource is not a wl_seat of this seat.
var ErrNotSeat = errors.New("resource is not a seat")

// KeyboardGrab receives keyboard events while installed on a seat.
type KeyboardGrab interface {
	Enter(surface wire.Resource, keycodes []uint32, mods Modifiers)
	Key(time, key, state uint32)
	Modifiers(mods Modifiers)
	// Cancel is called when the seat ends the grab or replaces it.
	Cancel()
}

// Events emitted by a seat.
type Events struct {
	KeyboardGrabBegin signal.Signal[KeyboardGrab]
	KeyboardGrabEnd   signal.Signal[KeyboardGrab]
	Destroy           signal.Signal[*Seat]
}

// Seat groups a keyboard, its focus and its grab.
type Seat struct {
	name     string
	global   wire.Global
	keyboard *Keyboard
	serial   uint32

	defaultGrab *defaultGrab
	grab        KeyboardGrab

	clients   map[uint32]*Client
	resources map[wire.Resource]*Client
	focus     *Client
	destroyed bool

	Events Events
}

// New advertises a wl_seat global named name on display.
func New(display wire.Display, name string, keyboard *Keyboard) (*Seat, error) {
	s := &Seat{
		name:      name,
		keyboard:  keyboard,
		clients:   make(map[uint32]*Client),
		resources: make(map[wire.Resource]*Client),
	}
	s.defaultGrab = &defaultGrab{seat: s}
	s.grab = s.defaultGrab

	global, err := display.CreateGlobal(SeatInterface, seatVersion, s.bind)
	if err != nil {
		return nil, fmt.Errorf("failed to create seat global: %w", err)
	}
	s.global = global
	return s, nil
}

func (s *Seat) Name() string {
	return s.name
}

// Keyboard returns the seat keyboard, or nil when the seat has none.
func (s *Seat) Keyboard() *Keyboard {
	return s.keyboard
}

// SetKeyboard replaces the seat keyboard. nil removes it.
func (s *Seat) SetKeyboard(k *Keyboard) {
	s.keyboard = k
	for _, c := range s.Clients() {
		for _, r := range c.resources {
			s.sendCapabilities(r)
		}
	}
}

// NextSerial returns a fresh display serial.
func (s *Seat) NextSerial() uint32 {
	s.serial++
	return s.serial
}

func (s *Seat) capabilities() uint32 {
	if s.keyboard != nil {
		return CapabilityKeyboard
	}
	return 0
}

func (s *Seat) sendCapabilities(r wire.Resource) {
	_ = r.PostEvent(seatEventCapabilities, s.capabilities())
}

func (s *Seat) bind(client wire.Client, version, id uint32) {
	r, err := client.CreateResource(SeatInterface, version, id)
	if err != nil {
		client.PostNoMemory()
		return
	}

	c, ok := s.clients[client.ID()]
	if !ok {
		c = &Client{seat: s, client: client}
		s.clients[client.ID()] = c
	}
	c.resources = append(c.resources, r)
	s.resources[r] = c

	r.SetHandler(seatHandler{c}, s.handleResourceDestroy)

	s.sendCapabilities(r)
	if version >= 2 {
		_ = r.PostEvent(seatEventName, s.name)
	}
}

func (s *Seat) handleResourceDestroy(r wire.Resource) {
	c, ok := s.resources[r]
	if !ok {
		return
	}
	delete(s.resources, r)
	c.resources = removeResource(c.resources, r)
	if len(c.resources) == 0 {
		c.destroy()
	}
}

// ClientFromResource resolves a wl_seat resource to its seat client.
func (s *Seat) ClientFromResource(r wire.Resource) (*Client, error) {
	if r == nil || r.Interface() != SeatInterface {
		return nil, ErrNotSeat
	}
	c, ok := s.resources[r]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%d not bound to seat %s", ErrNotSeat, r.Interface(), r.ID(), s.name)
	}
	return c, nil
}

// Clients returns the live seat clients ordered by client id.
func (s *Seat) Clients() []*Client {
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].client.ID() < out[j].client.ID() })
	return out
}

// SetKeyboardFocus routes default keyboard dispatch to c. nil clears focus.
func (s *Seat) SetKeyboardFocus(c *Client) {
	s.focus = c
}

func (s *Seat) KeyboardFocus() *Client {
	return s.focus
}

// KeyboardGrab returns the active grab, or nil when the default dispatch is
// in effect.
func (s *Seat) KeyboardGrab() KeyboardGrab {
	if s.grab == KeyboardGrab(s.defaultGrab) {
		return nil
	}
	return s.grab
}

// StartKeyboardGrab installs grab. A different grab already installed is
// canceled after the new one takes over.
func (s *Seat) StartKeyboardGrab(grab KeyboardGrab) {
	previous := s.grab
	s.grab = grab
	s.Events.KeyboardGrabBegin.Emit(grab)
	if previous != KeyboardGrab(s.defaultGrab) && previous != grab {
		logger.Debugf("seat %s: keyboard grab replaced", s.name)
		previous.Cancel()
	}
}

// EndKeyboardGrab restores default dispatch and cancels the active grab.
func (s *Seat) EndKeyboardGrab() {
	grab := s.grab
	if grab == KeyboardGrab(s.defaultGrab) {
		return
	}
	s.grab = s.defaultGrab
	s.Events.KeyboardGrabEnd.Emit(grab)
	grab.Cancel()
}

// NotifyKey routes a key event through the active grab.
func (s *Seat) NotifyKey(time, key, state uint32) {
	s.grab.Key(time, key, state)
}

// NotifyModifiers routes a modifier update through the active grab.
func (s *Seat) NotifyModifiers(mods Modifiers) {
	s.grab.Modifiers(mods)
}

// Destroy withdraws the global and tears down every seat client.
func (s *Seat) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.EndKeyboardGrab()
	for _, c := range s.Clients() {
		for _, r := range c.resources {
			delete(s.resources, r)
			r.SetHandler(nil, nil)
		}
		c.resources = nil
		c.destroy()
	}
	s.Events.Destroy.Emit(s)
	s.global.Destroy()
}

// ClientEvents are emitted by a seat client.
type ClientEvents struct {
	Destroy signal.Signal[*Client]
}

// Client is the binding of one wire client to the seat. It lives as long as
// the client holds at least one wl_seat resource.
type Client struct {
	seat      *Seat
	client    wire.Client
	resources []wire.Resource
	keyboards []wire.Resource
	destroyed bool

	Events ClientEvents
}

func (c *Client) Seat() *Seat {
	return c.seat
}

func (c *Client) WireClient() wire.Client {
	return c.client
}

// Keyboards returns the client's wl_keyboard resources.
func (c *Client) Keyboards() []wire.Resource {
	return append([]wire.Resource(nil), c.keyboards...)
}

func (c *Client) destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.Events.Destroy.Emit(c)
	for _, k := range c.keyboards {
		k.SetHandler(nil, nil)
	}
	c.keyboards = nil
	if c.seat.focus == c {
		c.seat.focus = nil
	}
	delete(c.seat.clients, c.client.ID())
}

func (c *Client) getKeyboard(version, id uint32) error {
	r, err := c.client.CreateResource(KeyboardInterface, version, id)
	if err != nil {
		c.client.PostNoMemory()
		return nil
	}
	c.keyboards = append(c.keyboards, r)
	r.SetHandler(keyboardHandler{}, func(r wire.Resource) {
		c.keyboards = removeResource(c.keyboards, r)
	})

	kb := c.seat.keyboard
	if kb == nil {
		return nil
	}
	fd, size, err := shm.WriteKeymap(kb.Keymap())
	if err != nil {
		logger.Errorf("seat %s: failed to share keymap: %v", c.seat.name, err)
		return nil
	}
	defer func() { _ = unix.Close(fd) }()
	if err := r.PostEvent(keyboardEventKeymap, wire.KeymapFormatXKBV1, wire.Fd(fd), size); err != nil {
		return err
	}
	if version >= 4 {
		info := kb.RepeatInfo()
		_ = r.PostEvent(keyboardEventRepeatInfo, info.Rate, info.Delay)
	}
	return nil
}

type seatHandler struct {
	client *Client
}

func (h seatHandler) HandleRequest(r wire.Resource, opcode uint16, args wire.Args) error {
	switch opcode {
	case seatRequestGetKeyboard:
		id, err := args.Uint32(0)
		if err != nil {
			return err
		}
		return h.client.getKeyboard(r.Version(), id)
	case seatRequestGetPointer, seatRequestGetTouch:
		return fmt.Errorf("seat %s has no such capability: %w", h.client.seat.name, wire.ErrUnknownOpcode)
	case seatRequestRelease:
		r.Destroy()
		return nil
	default:
		return fmt.Errorf("wl_seat opcode %d: %w", opcode, wire.ErrUnknownOpcode)
	}
}

type keyboardHandler struct{}

func (keyboardHandler) HandleRequest(r wire.Resource, opcode uint16, args wire.Args) error {
	if opcode != keyboardRequestRelease {
		return fmt.Errorf("wl_keyboard opcode %d: %w", opcode, wire.ErrUnknownOpcode)
	}
	r.Destroy()
	return nil
}

// defaultGrab delivers keyboard events to the focused client's keyboards.
type defaultGrab struct {
	seat *Seat
}

func (g *defaultGrab) Enter(wire.Resource, []uint32, Modifiers) {}

func (g *defaultGrab) Key(time, key, state uint32) {
	focus := g.seat.focus
	if focus == nil {
		return
	}
	serial := g.seat.NextSerial()
	for _, k := range focus.keyboards {
		_ = k.PostEvent(keyboardEventKey, serial, time, key, state)
	}
}

func (g *defaultGrab) Modifiers(mods Modifiers) {
	focus := g.seat.focus
	if focus == nil {
		return
	}
	serial := g.seat.NextSerial()
	for _, k := range focus.keyboards {
		_ = k.PostEvent(keyboardEventModifiers, serial, mods.Depressed, mods.Latched, mods.Locked, mods.Group)
	}
}

func (g *defaultGrab) Cancel() {}

func removeResource(list []wire.Resource, r wire.Resource) []wire.Resource {
	out := list[:0]
	for _, other := range list {
		if other != r {
			out = append(out, other)
		}
	}
	return out
}
