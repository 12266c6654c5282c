package input_method

import (
	"fmt"

	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/shm"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
	"golang.org/x/sys/unix"
)

// writeKeymap shares a keymap through an anonymous file.
var writeKeymap = shm.WriteKeymap

// KeyboardGrabEvents are emitted by a keyboard grab.
type KeyboardGrabEvents struct {
	Destroy signal.Signal[*KeyboardGrab]
}

// KeyboardGrab is a zwp_input_method_keyboard_grab_v2. While installed on
// the seat, every key and modifier event is forwarded to the input method
// with a serial from the grab's own counter.
type KeyboardGrab struct {
	inputMethod  *InputMethod
	resource     wire.Resource
	handle       *keyboardGrabHandle
	seat         *seat.Seat
	registration *seatGrab

	keyboard           *seat.Keyboard
	keymapListener     *signal.Listener[*seat.Keyboard]
	repeatInfoListener *signal.Listener[*seat.Keyboard]

	serial    uint32
	grabbed   bool
	destroyed bool

	Events KeyboardGrabEvents
}

type keyboardGrabHandle struct {
	grab *KeyboardGrab
}

// seatGrab is the registration installed on the seat.
type seatGrab struct {
	grab *KeyboardGrab
}

func newKeyboardGrab(im *InputMethod, r wire.Resource) *KeyboardGrab {
	g := &KeyboardGrab{
		inputMethod: im,
		resource:    r,
		seat:        im.seatClient.Seat(),
	}
	g.handle = &keyboardGrabHandle{grab: g}
	g.registration = &seatGrab{grab: g}
	r.SetHandler(g.handle, g.handle.resourceDestroyed)
	return g
}

// InputMethod returns the owning input method.
func (g *KeyboardGrab) InputMethod() *InputMethod {
	return g.inputMethod
}

// Grabbed reports whether the grab is installed on the seat.
func (g *KeyboardGrab) Grabbed() bool {
	return g.grabbed
}

func (g *KeyboardGrab) Destroyed() bool {
	return g.destroyed
}

// Serial is the serial the next forwarded event will carry.
func (g *KeyboardGrab) Serial() uint32 {
	return g.serial
}

func (g *KeyboardGrab) start() error {
	kb := g.seat.Keyboard()
	g.keyboard = kb

	if kb != nil {
		if err := g.sendKeymap(kb); err != nil {
			return fmt.Errorf("%w: initial keymap: %v", ErrNoMemory, err)
		}
		g.sendRepeatInfo(kb)
	}

	g.seat.StartKeyboardGrab(g.registration)
	if kb != nil {
		g.seat.NotifyModifiers(kb.Modifiers())
	}
	g.grabbed = true

	if kb != nil {
		g.keymapListener = kb.Events.Keymap.Add(func(kb *seat.Keyboard) {
			if err := g.sendKeymap(kb); err != nil {
				logger.Errorf("input method %d: keymap update not forwarded: %v", g.inputMethod.id, err)
			}
		})
		g.repeatInfoListener = kb.Events.RepeatInfo.Add(g.sendRepeatInfo)
	}
	return nil
}

func (g *KeyboardGrab) sendKeymap(kb *seat.Keyboard) error {
	fd, size, err := writeKeymap(kb.Keymap())
	if err != nil {
		logger.Errorf("creating a keymap file for %d bytes failed: %v", kb.KeymapSize(), err)
		return err
	}
	defer func() { _ = unix.Close(fd) }()

	return g.resource.PostEvent(grabEventKeymap, wire.KeymapFormatXKBV1, wire.Fd(fd), size)
}

func (g *KeyboardGrab) sendRepeatInfo(kb *seat.Keyboard) {
	info := kb.RepeatInfo()
	g.post(grabEventRepeatInfo, info.Rate, info.Delay)
}

// ForwardKey sends a key event to the input method.
func (g *KeyboardGrab) ForwardKey(time, key, state uint32) {
	if g.destroyed {
		return
	}
	serial := g.serial
	g.serial++
	g.post(grabEventKey, serial, time, key, state)
}

// ForwardModifiers sends a modifier update to the input method.
func (g *KeyboardGrab) ForwardModifiers(mods seat.Modifiers) {
	if g.destroyed {
		return
	}
	serial := g.serial
	g.serial++
	g.post(grabEventModifiers, serial, mods.Depressed, mods.Latched, mods.Locked, mods.Group)
}

func (g *KeyboardGrab) post(opcode uint16, args ...any) {
	if err := g.resource.PostEvent(opcode, args...); err != nil {
		logger.Debugf("input method %d: %s not delivered: %v", g.inputMethod.id, EventName(KeyboardGrabInterface, opcode), err)
	}
}

// cancel runs when the seat takes the grab away. The client resource stays
// alive and inert until the client releases it.
func (g *KeyboardGrab) cancel() {
	if !g.grabbed {
		return
	}
	g.grabbed = false
	g.unsubscribe()
	g.destroy()
	g.handle.grab = nil
}

func (g *KeyboardGrab) unsubscribe() {
	g.keymapListener.Remove()
	g.repeatInfoListener.Remove()
}

// destroyResource destroys the client resource, which destroys the grab.
func (g *KeyboardGrab) destroyResource() {
	g.resource.Destroy()
	if !g.destroyed {
		g.destroy()
	}
}

func (g *KeyboardGrab) destroy() {
	if g.destroyed {
		return
	}
	g.destroyed = true
	g.Events.Destroy.Emit(g)

	g.unsubscribe()
	if g.grabbed {
		g.grabbed = false
		if g.seat.KeyboardGrab() == seat.KeyboardGrab(g.registration) {
			g.seat.EndKeyboardGrab()
		}
	}
	if g.inputMethod.keyboardGrab == g {
		g.inputMethod.keyboardGrab = nil
	}
	g.handle.grab = nil
	logger.Debugf("input method %d: keyboard grab destroyed", g.inputMethod.id)
}

func (h *keyboardGrabHandle) resourceDestroyed(wire.Resource) {
	if h.grab == nil {
		return
	}
	h.grab.destroy()
}

func (h *keyboardGrabHandle) HandleRequest(r wire.Resource, opcode uint16, _ wire.Args) error {
	if opcode != grabRequestRelease {
		return fmt.Errorf("%s opcode %d: %w", KeyboardGrabInterface, opcode, wire.ErrUnknownOpcode)
	}
	r.Destroy()
	return nil
}

// Enter has nothing to forward: the grab is not tied to surface focus.
func (s *seatGrab) Enter(wire.Resource, []uint32, seat.Modifiers) {}

func (s *seatGrab) Key(time, key, state uint32) {
	s.grab.ForwardKey(time, key, state)
}

func (s *seatGrab) Modifiers(mods seat.Modifiers) {
	s.grab.ForwardModifiers(mods)
}

func (s *seatGrab) Cancel() {
	s.grab.cancel()
}
