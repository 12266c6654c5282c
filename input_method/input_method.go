package input_method

import (
	"fmt"

	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
)

// InputMethodEvents are emitted by an input method.
type InputMethodEvents struct {
	// Commit fires after pending state became current.
	Commit signal.Signal[*InputMethod]
	// GrabKeyboard fires once a keyboard grab is installed.
	GrabKeyboard signal.Signal[*KeyboardGrab]
	Destroy      signal.Signal[*InputMethod]
}

// InputMethod is one zwp_input_method_v2: an input method editor bound to a
// seat.
type InputMethod struct {
	id          uint64
	manager     *Manager
	resource    wire.Resource
	handle      *inputMethodHandle
	seatClient  *seat.Client
	seatDestroy *signal.Listener[*seat.Client]

	pending       State
	current       State
	currentSerial uint32
	active        bool
	clientActive  bool

	keyboardGrab *KeyboardGrab
	destroyed    bool

	Events InputMethodEvents
}

// inputMethodHandle is the request handler of the client resource. Its
// im field is cleared when the input method is torn down while the client
// still holds the resource, which turns later requests into no-ops.
type inputMethodHandle struct {
	im *InputMethod
}

func newInputMethod(m *Manager, id uint64, r wire.Resource, seatClient *seat.Client) *InputMethod {
	im := &InputMethod{
		id:         id,
		manager:    m,
		resource:   r,
		seatClient: seatClient,
	}
	im.handle = &inputMethodHandle{im: im}
	r.SetHandler(im.handle, im.handle.resourceDestroyed)
	im.seatDestroy = seatClient.Events.Destroy.Add(func(*seat.Client) {
		im.SendUnavailable()
	})
	return im
}

func (im *InputMethod) ID() uint64 {
	return im.id
}

// Client returns the client that owns the input method.
func (im *InputMethod) Client() wire.Client {
	return im.resource.Client()
}

// Seat returns the seat the input method was created on.
func (im *InputMethod) Seat() *seat.Seat {
	return im.seatClient.Seat()
}

// Pending returns the state accumulated since the last commit.
func (im *InputMethod) Pending() State {
	return im.pending
}

// Current returns the last committed state.
func (im *InputMethod) Current() State {
	return im.current
}

// CurrentSerial is the serial of the last commit, advanced by one on every
// SendDone.
func (im *InputMethod) CurrentSerial() uint32 {
	return im.currentSerial
}

// Active reports the availability last declared by the compositor.
func (im *InputMethod) Active() bool {
	return im.active
}

// ClientActive reports the availability the client has seen through done.
func (im *InputMethod) ClientActive() bool {
	return im.clientActive
}

// KeyboardGrab returns the active keyboard grab, if any.
func (im *InputMethod) KeyboardGrab() *KeyboardGrab {
	return im.keyboardGrab
}

func (im *InputMethod) Destroyed() bool {
	return im.destroyed
}

func (im *InputMethod) commitString(text string) {
	im.pending.CommitText = &text
}

func (im *InputMethod) setPreeditString(text string, cursorBegin, cursorEnd int32) {
	im.pending.Preedit = Preedit{Text: &text, CursorBegin: cursorBegin, CursorEnd: cursorEnd}
}

func (im *InputMethod) deleteSurroundingText(beforeLength, afterLength uint32) {
	im.pending.DeleteSurrounding = DeleteSurrounding{BeforeLength: beforeLength, AfterLength: afterLength}
}

func (im *InputMethod) commit(serial uint32) {
	im.current = im.pending
	im.pending = State{}
	im.currentSerial = serial
	im.Events.Commit.Emit(im)
}

func (im *InputMethod) grabKeyboard(id uint32) {
	if im.keyboardGrab != nil {
		return
	}

	client := im.resource.Client()
	r, err := client.CreateResource(KeyboardGrabInterface, im.resource.Version(), id)
	if err != nil {
		logger.Debugf("input method %d: failed to create keyboard grab: %v", im.id, err)
		client.PostNoMemory()
		return
	}

	// The grab is attached to the session only once started, so a failed
	// grab is never observable through KeyboardGrab or GrabKeyboard.
	grab := newKeyboardGrab(im, r)
	if err := grab.start(); err != nil {
		logger.Errorf("input method %d: keyboard grab failed: %v", im.id, err)
		client.PostNoMemory()
		r.Destroy()
		return
	}
	im.keyboardGrab = grab

	logger.Debugf("input method %d: keyboard grabbed on seat %s", im.id, im.seatClient.Seat().Name())
	im.Events.GrabKeyboard.Emit(grab)
}

func (im *InputMethod) post(opcode uint16, args ...any) {
	if err := im.resource.PostEvent(opcode, args...); err != nil {
		logger.Debugf("input method %d: %s not delivered: %v", im.id, EventName(InputMethodInterface, opcode), err)
	}
}

// SendActivate tells the input method a text field gained focus.
func (im *InputMethod) SendActivate() {
	if im.destroyed {
		return
	}
	im.post(imEventActivate)
	im.active = true
}

// SendDeactivate tells the input method the text field lost focus.
func (im *InputMethod) SendDeactivate() {
	if im.destroyed {
		return
	}
	im.post(imEventDeactivate)
	im.active = false
}

// SendSurroundingText sends the text around the cursor. Cursor and anchor
// are byte offsets into text.
func (im *InputMethod) SendSurroundingText(text string, cursor, anchor uint32) {
	if im.destroyed {
		return
	}
	im.post(imEventSurroundingText, text, cursor, anchor)
}

func (im *InputMethod) SendTextChangeCause(cause ChangeCause) {
	if im.destroyed {
		return
	}
	im.post(imEventTextChangeCause, uint32(cause))
}

func (im *InputMethod) SendContentType(hint ContentHint, purpose ContentPurpose) {
	if im.destroyed {
		return
	}
	im.post(imEventContentType, uint32(hint), uint32(purpose))
}

// SendDone applies every state sent since the previous done atomically on
// the client side.
func (im *InputMethod) SendDone() {
	if im.destroyed {
		return
	}
	im.post(imEventDone)
	im.clientActive = im.active
	im.currentSerial++
}

// SendUnavailable tells the client the input method can no longer be used
// and destroys it. The client resource stays alive until the client
// destroys it, but is inert.
func (im *InputMethod) SendUnavailable() {
	if im.destroyed {
		return
	}
	im.post(imEventUnavailable)
	im.handle.im = nil
	im.destroy()
}

func (im *InputMethod) destroy() {
	if im.destroyed {
		return
	}
	im.destroyed = true
	im.Events.Destroy.Emit(im)

	im.manager.remove(im)
	im.seatDestroy.Remove()
	if im.keyboardGrab != nil {
		im.keyboardGrab.destroyResource()
	}
	im.pending = State{}
	im.current = State{}
	im.handle.im = nil

	logger.Debugf("input method %d destroyed", im.id)
}

func (h *inputMethodHandle) resourceDestroyed(wire.Resource) {
	if h.im == nil {
		return
	}
	h.im.destroy()
}

func (h *inputMethodHandle) HandleRequest(r wire.Resource, opcode uint16, args wire.Args) error {
	if opcode == imRequestDestroy {
		r.Destroy()
		return nil
	}

	im := h.im
	switch opcode {
	case imRequestCommitString:
		text, err := args.String(0)
		if err != nil || im == nil {
			return err
		}
		im.commitString(text)
	case imRequestSetPreeditString:
		text, err := args.String(0)
		if err != nil {
			return err
		}
		begin, err := args.Int32(1)
		if err != nil {
			return err
		}
		end, err := args.Int32(2)
		if err != nil || im == nil {
			return err
		}
		im.setPreeditString(text, begin, end)
	case imRequestDeleteSurroundingText:
		before, err := args.Uint32(0)
		if err != nil {
			return err
		}
		after, err := args.Uint32(1)
		if err != nil || im == nil {
			return err
		}
		im.deleteSurroundingText(before, after)
	case imRequestCommit:
		serial, err := args.Uint32(0)
		if err != nil || im == nil {
			return err
		}
		im.commit(serial)
	case imRequestGetInputPopupSurface:
		if _, err := args.Uint32(0); err != nil {
			return err
		}
		if _, err := args.Object(1); err != nil {
			return err
		}
		logger.Info("Stub: zwp_input_method_v2::get_input_popup_surface")
	case imRequestGrabKeyboard:
		id, err := args.Uint32(0)
		if err != nil || im == nil {
			return err
		}
		im.grabKeyboard(id)
	default:
		return fmt.Errorf("%s opcode %d: %w", InputMethodInterface, opcode, wire.ErrUnknownOpcode)
	}
	return nil
}
