package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/bnema/wayime/input_method"
	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/wire"
	"golang.org/x/sys/unix"
)

// seatVersion is the wl_seat version scenario clients bind.
const seatVersion = 7

// Options configure the display a Runner builds.
type Options struct {
	SeatName string
	Keymap   string
	Repeat   seat.RepeatInfo
}

// Session is a named input method created by a scenario.
type Session struct {
	Name        string
	InputMethod *input_method.InputMethod
}

type client struct {
	name    string
	conn    *loopback.Client
	seat    *loopback.Resource
	manager *loopback.Resource
	inbox   []string
}

type object struct {
	client   *client
	resource *loopback.Resource
}

// Runner executes scenario steps against a fresh loopback display.
type Runner struct {
	display  *loopback.Display
	seat     *seat.Seat
	keyboard *seat.Keyboard
	manager  *input_method.Manager

	clients  map[string]*client
	objects  map[string]*object
	sessions map[string]*input_method.InputMethod
	external *externalGrab
	closed   bool
}

// NewRunner builds a display with one seat and the input method manager.
func NewRunner(opts Options) (*Runner, error) {
	if opts.SeatName == "" {
		opts.SeatName = "seat0"
	}
	display := loopback.NewDisplay()
	keyboard := seat.NewKeyboard(opts.Keymap, opts.Repeat)
	s, err := seat.New(display, opts.SeatName, keyboard)
	if err != nil {
		return nil, fmt.Errorf("failed to create seat: %w", err)
	}
	manager, err := input_method.NewManager(display, s)
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("failed to create input method manager: %w", err)
	}
	return &Runner{
		display:  display,
		seat:     s,
		keyboard: keyboard,
		manager:  manager,
		clients:  make(map[string]*client),
		objects:  make(map[string]*object),
		sessions: make(map[string]*input_method.InputMethod),
	}, nil
}

// NewRunnerFor applies the scenario's seat and keyboard overrides on top of
// opts.
func NewRunnerFor(sc *Scenario, opts Options) (*Runner, error) {
	if sc.Seat != "" {
		opts.SeatName = sc.Seat
	}
	if kb := sc.Keyboard; kb != nil {
		if kb.KeymapFile != "" {
			data, err := os.ReadFile(kb.KeymapFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read keymap: %w", err)
			}
			opts.Keymap = string(data)
		}
		if kb.RepeatRate != nil {
			opts.Repeat.Rate = *kb.RepeatRate
		}
		if kb.RepeatDelay != nil {
			opts.Repeat.Delay = *kb.RepeatDelay
		}
	}
	return NewRunner(opts)
}

func (r *Runner) Display() *loopback.Display     { return r.display }
func (r *Runner) Seat() *seat.Seat               { return r.seat }
func (r *Runner) Manager() *input_method.Manager { return r.manager }
func (r *Runner) Keyboard() *seat.Keyboard       { return r.keyboard }
func (r *Runner) Session(name string) (*input_method.InputMethod, bool) {
	im, ok := r.sessions[name]
	return im, ok
}

// CompetingGrabCanceled reports whether the last competing_grab was
// canceled by the seat.
func (r *Runner) CompetingGrabCanceled() bool {
	return r.external != nil && r.external.canceled
}

// Sessions returns the named input methods, ordered by name.
func (r *Runner) Sessions() []Session {
	out := make([]Session, 0, len(r.sessions))
	for name, im := range r.sessions {
		out = append(out, Session{Name: name, InputMethod: im})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes every step, stopping at the first failure or when ctx is
// done.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Step(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	return nil
}

// Step executes a single step.
func (r *Runner) Step(step Step) error {
	if r.closed {
		return errors.New("display shut down")
	}
	if err := step.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer r.collect()

	logger.Debugf("scenario: %s client=%q target=%q", step.Op, step.Client, step.Target)

	switch step.Op {
	case "connect":
		return r.connect(step.Client)
	case "disconnect":
		c, err := r.client(step.Client)
		if err != nil {
			return err
		}
		c.conn.Close()
		delete(r.clients, c.name)
		return nil
	case "focus":
		return r.focus(step.Client)
	case "get_keyboard":
		return r.newObject(step, seat.SeatInterface, "get_keyboard")
	case "get_input_method":
		return r.getInputMethod(step)
	case "expect_events":
		return r.expectEvents(step)

	case "commit_string":
		return r.request(step.Target, input_method.InputMethodInterface, step.Op, step.Text)
	case "set_preedit_string":
		return r.request(step.Target, input_method.InputMethodInterface, step.Op, step.Text, step.Begin, step.End)
	case "delete_surrounding_text":
		return r.request(step.Target, input_method.InputMethodInterface, step.Op, step.Before, step.After)
	case "commit":
		serial := uint32(0)
		if step.Serial != nil {
			serial = *step.Serial
		} else if im, ok := r.sessions[step.Target]; ok {
			serial = im.CurrentSerial()
		}
		return r.request(step.Target, input_method.InputMethodInterface, step.Op, serial)
	case "get_input_popup_surface":
		obj, err := r.object(step.Target, input_method.InputMethodInterface)
		if err != nil {
			return err
		}
		return r.send(obj, input_method.InputMethodInterface, step.Op, obj.client.conn.NewID(), nil)
	case "grab_keyboard":
		return r.newObject(step, input_method.InputMethodInterface, step.Op)
	case "destroy", "release":
		return r.destroy(step.Target)

	case "key":
		state, _ := keyState(step.State)
		r.seat.NotifyKey(step.Time, step.Key, state)
	case "modifiers":
		mods := seat.Modifiers{Depressed: step.Depressed, Latched: step.Latched, Locked: step.Locked, Group: step.Group}
		r.keyboard.SetModifiers(mods)
		r.seat.NotifyModifiers(mods)
	case "repeat_info":
		r.keyboard.SetRepeatInfo(seat.RepeatInfo{Rate: step.Rate, Delay: step.Delay})
	case "keymap":
		keymap := ""
		if step.Keymap != "" {
			data, err := os.ReadFile(step.Keymap)
			if err != nil {
				return fmt.Errorf("failed to read keymap: %w", err)
			}
			keymap = string(data)
		}
		r.keyboard.SetKeymap(keymap)
	case "competing_grab":
		r.external = &externalGrab{}
		r.seat.StartKeyboardGrab(r.external)
	case "end_grab":
		r.seat.EndKeyboardGrab()
	case "shutdown":
		r.Close()

	default:
		return r.compositorEvent(step)
	}
	return nil
}

func (r *Runner) compositorEvent(step Step) error {
	im, ok := r.sessions[step.Target]
	if !ok {
		return fmt.Errorf("unknown input method %q", step.Target)
	}
	switch step.Op {
	case "activate":
		im.SendActivate()
	case "deactivate":
		im.SendDeactivate()
	case "surrounding_text":
		im.SendSurroundingText(step.Text, step.Cursor, step.Anchor)
	case "text_change_cause":
		cause, _ := changeCause(step.Cause)
		im.SendTextChangeCause(cause)
	case "content_type":
		im.SendContentType(input_method.ContentHint(step.Hint), input_method.ContentPurpose(step.Purpose))
	case "done":
		im.SendDone()
	case "unavailable":
		im.SendUnavailable()
	case "expect":
		return checkSession(im, step.Want)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func (r *Runner) connect(name string) error {
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("client %q already connected", name)
	}
	conn := r.display.Connect(name)

	seatGlobal, ok := r.display.Global(seat.SeatInterface)
	if !ok {
		return fmt.Errorf("no %s global", seat.SeatInterface)
	}
	seatResource, err := conn.Bind(seatGlobal, seatVersion)
	if err != nil {
		return err
	}
	managerGlobal, ok := r.display.Global(input_method.ManagerInterface)
	if !ok {
		return fmt.Errorf("no %s global", input_method.ManagerInterface)
	}
	managerResource, err := conn.Bind(managerGlobal, input_method.ManagerVersion)
	if err != nil {
		return err
	}

	// Binding events are not checked by expect_events.
	for _, ev := range conn.TakeEvents() {
		closeFds(ev)
	}

	c := &client{name: name, conn: conn, seat: seatResource, manager: managerResource}
	r.clients[name] = c
	r.objects[name+".seat"] = &object{client: c, resource: seatResource}
	r.objects[name+".manager"] = &object{client: c, resource: managerResource}
	return nil
}

func (r *Runner) focus(name string) error {
	c, err := r.client(name)
	if err != nil {
		return err
	}
	seatClient, err := r.seat.ClientFromResource(c.seat)
	if err != nil {
		return err
	}
	r.seat.SetKeyboardFocus(seatClient)
	return nil
}

func (r *Runner) getInputMethod(step Step) error {
	c, err := r.client(step.Client)
	if err != nil {
		return err
	}

	var created *input_method.InputMethod
	l := r.manager.Events.InputMethod.Add(func(im *input_method.InputMethod) { created = im })
	defer l.Remove()

	id := c.conn.NewID()
	obj := &object{client: c, resource: c.manager}
	if err := r.send(obj, input_method.ManagerInterface, step.Op, c.seat, id); err != nil {
		return err
	}
	if res, ok := c.conn.Object(id); ok {
		r.objects[step.As] = &object{client: c, resource: res}
	}
	if created != nil {
		r.sessions[step.As] = created
	}
	return nil
}

// newObject issues a request whose only argument is a new_id and names the
// created object.
func (r *Runner) newObject(step Step, iface, request string) error {
	var obj *object
	if step.Client != "" && iface == seat.SeatInterface {
		c, err := r.client(step.Client)
		if err != nil {
			return err
		}
		obj = &object{client: c, resource: c.seat}
	} else {
		var err error
		if obj, err = r.object(step.Target, iface); err != nil {
			return err
		}
	}

	id := obj.client.conn.NewID()
	if err := r.send(obj, iface, request, id); err != nil {
		return err
	}
	if step.As == "" {
		return nil
	}
	if res, ok := obj.client.conn.Object(id); ok {
		r.objects[step.As] = &object{client: obj.client, resource: res}
	}
	return nil
}

func (r *Runner) destroy(name string) error {
	obj, ok := r.objects[name]
	if !ok {
		return fmt.Errorf("unknown object %q", name)
	}
	iface := obj.resource.Interface()
	for _, request := range []string{"destroy", "release"} {
		if _, ok := requestOpcode(iface, request); ok {
			return r.send(obj, iface, request)
		}
	}
	return fmt.Errorf("%s has no destructor", iface)
}

func (r *Runner) request(name, iface, request string, args ...any) error {
	obj, err := r.object(name, iface)
	if err != nil {
		return err
	}
	return r.send(obj, iface, request, args...)
}

// send issues a request. Protocol errors posted to the client are not step
// failures; requests on dead objects or clients are.
func (r *Runner) send(obj *object, iface, request string, args ...any) error {
	opcode, ok := requestOpcode(iface, request)
	if !ok {
		return fmt.Errorf("%s has no request %s", iface, request)
	}
	err := obj.client.conn.Request(obj.resource, opcode, args...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wire.ErrDestroyed), errors.Is(err, loopback.ErrClientClosed):
		return err
	}
	logger.Debugf("scenario: %s.%s raised a protocol error: %v", iface, request, err)
	return nil
}

func (r *Runner) client(name string) (*client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown client %q", name)
	}
	return c, nil
}

func (r *Runner) object(name, iface string) (*object, error) {
	obj, ok := r.objects[name]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", name)
	}
	if got := obj.resource.Interface(); got != iface {
		return nil, fmt.Errorf("object %q is a %s, want %s", name, got, iface)
	}
	return obj, nil
}

// collect moves delivered events into each client's inbox.
func (r *Runner) collect() {
	for _, c := range r.clients {
		for _, ev := range c.conn.TakeEvents() {
			c.inbox = append(c.inbox, eventName(ev.Interface, ev.Opcode))
			closeFds(ev)
		}
	}
}

func (r *Runner) expectEvents(step Step) error {
	c, err := r.client(step.Client)
	if err != nil {
		return err
	}
	got := c.inbox
	c.inbox = nil

	if step.Events != nil && !slices.Equal(got, step.Events) {
		return fmt.Errorf("client %q received %v, want %v", c.name, got, step.Events)
	}
	if step.Want != nil && step.Want.Errors != nil {
		if n := len(c.conn.Errors()); n != *step.Want.Errors {
			return fmt.Errorf("client %q has %d protocol errors, want %d", c.name, n, *step.Want.Errors)
		}
	}
	return nil
}

// UpdateKeyboard applies a keymap or repeat info change to the seat
// keyboard. Unchanged values are not re-sent.
func (r *Runner) UpdateKeyboard(keymap string, repeat seat.RepeatInfo) {
	if r.closed {
		return
	}
	if keymap == "" {
		keymap = seat.DefaultKeymap
	}
	if keymap != r.keyboard.Keymap() {
		r.keyboard.SetKeymap(keymap)
	}
	if repeat != r.keyboard.RepeatInfo() {
		r.keyboard.SetRepeatInfo(repeat)
	}
	r.collect()
}

// Close destroys the display, which shuts the manager down, then the seat.
func (r *Runner) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.display.Destroy()
	r.seat.Destroy()
	r.clients = map[string]*client{}
}

type externalGrab struct {
	canceled bool
}

func (g *externalGrab) Enter(wire.Resource, []uint32, seat.Modifiers) {}
func (g *externalGrab) Key(uint32, uint32, uint32)                    {}
func (g *externalGrab) Modifiers(seat.Modifiers)                      {}
func (g *externalGrab) Cancel()                                       { g.canceled = true }

func requestOpcode(iface, name string) (uint16, bool) {
	if iface == seat.SeatInterface || iface == seat.KeyboardInterface {
		return seat.RequestOpcode(iface, name)
	}
	return input_method.RequestOpcode(iface, name)
}

func eventName(iface string, opcode uint16) string {
	if iface == seat.SeatInterface || iface == seat.KeyboardInterface {
		return seat.EventName(iface, opcode)
	}
	return input_method.EventName(iface, opcode)
}

func closeFds(ev loopback.Event) {
	for _, arg := range ev.Args {
		if fd, ok := arg.(wire.Fd); ok {
			_ = unix.Close(int(fd))
		}
	}
}

func keyState(s string) (uint32, error) {
	switch s {
	case "pressed", "":
		return seat.KeyPressed, nil
	case "released":
		return seat.KeyReleased, nil
	}
	return 0, fmt.Errorf("key: unknown state %q", s)
}

func changeCause(s string) (input_method.ChangeCause, error) {
	switch s {
	case "input_method":
		return input_method.ChangeCauseInputMethod, nil
	case "other", "":
		return input_method.ChangeCauseOther, nil
	}
	return 0, fmt.Errorf("text_change_cause: unknown cause %q", s)
}

func checkSession(im *input_method.InputMethod, want *Want) error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	cur := im.Current()
	if want.Commit != nil {
		check(cur.CommitText != nil && *cur.CommitText == *want.Commit, "commit is %s, want %q", optional(cur.CommitText), *want.Commit)
	}
	if want.Preedit != nil {
		check(cur.Preedit.Text != nil && *cur.Preedit.Text == *want.Preedit, "preedit is %s, want %q", optional(cur.Preedit.Text), *want.Preedit)
	}
	if want.CursorBegin != nil {
		check(cur.Preedit.CursorBegin == *want.CursorBegin, "cursor_begin is %d, want %d", cur.Preedit.CursorBegin, *want.CursorBegin)
	}
	if want.CursorEnd != nil {
		check(cur.Preedit.CursorEnd == *want.CursorEnd, "cursor_end is %d, want %d", cur.Preedit.CursorEnd, *want.CursorEnd)
	}
	if want.Before != nil {
		check(cur.DeleteSurrounding.BeforeLength == *want.Before, "before is %d, want %d", cur.DeleteSurrounding.BeforeLength, *want.Before)
	}
	if want.After != nil {
		check(cur.DeleteSurrounding.AfterLength == *want.After, "after is %d, want %d", cur.DeleteSurrounding.AfterLength, *want.After)
	}
	if want.Serial != nil {
		check(im.CurrentSerial() == *want.Serial, "serial is %d, want %d", im.CurrentSerial(), *want.Serial)
	}
	if want.Active != nil {
		check(im.Active() == *want.Active, "active is %t, want %t", im.Active(), *want.Active)
	}
	if want.Grabbed != nil {
		grabbed := im.KeyboardGrab() != nil && im.KeyboardGrab().Grabbed()
		check(grabbed == *want.Grabbed, "grabbed is %t, want %t", grabbed, *want.Grabbed)
	}
	if want.Unavailable != nil {
		check(im.Destroyed() == *want.Unavailable, "unavailable is %t, want %t", im.Destroyed(), *want.Unavailable)
	}

	if len(problems) > 0 {
		return fmt.Errorf("input method %d: %v", im.ID(), problems)
	}
	return nil
}

func optional(s *string) string {
	if s == nil {
		return "nil"
	}
	return fmt.Sprintf("%q", *s)
}
