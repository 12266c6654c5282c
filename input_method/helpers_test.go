package input_method

import (
	"testing"

	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/wire"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fixture struct {
	display  *loopback.Display
	seat     *seat.Seat
	keyboard *seat.Keyboard
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	display := loopback.NewDisplay()
	keyboard := seat.NewKeyboard("", seat.RepeatInfo{Rate: 25, Delay: 600})
	s, err := seat.New(display, "seat0", keyboard)
	require.NoError(t, err)
	m, err := NewManager(display, s)
	require.NoError(t, err)
	return &fixture{display: display, seat: s, keyboard: keyboard, manager: m}
}

type imClient struct {
	t       *testing.T
	client  *loopback.Client
	seat    *loopback.Resource
	manager *loopback.Resource
}

func (f *fixture) connect(t *testing.T, name string) *imClient {
	t.Helper()
	c := f.display.Connect(name)
	t.Cleanup(func() { closeEventFds(c.TakeEvents()) })

	seatGlobal, ok := f.display.Global(seat.SeatInterface)
	require.True(t, ok)
	seatResource, err := c.Bind(seatGlobal, 7)
	require.NoError(t, err)

	managerGlobal, ok := f.display.Global(ManagerInterface)
	require.True(t, ok)
	managerResource, err := c.Bind(managerGlobal, ManagerVersion)
	require.NoError(t, err)

	c.TakeEvents()
	return &imClient{t: t, client: c, seat: seatResource, manager: managerResource}
}

// getInputMethod issues get_input_method and returns the new resource and
// the server-side object.
func (c *imClient) getInputMethod(f *fixture) (*loopback.Resource, *InputMethod) {
	c.t.Helper()
	var created *InputMethod
	l := f.manager.Events.InputMethod.Add(func(im *InputMethod) { created = im })
	defer l.Remove()

	id := c.client.NewID()
	require.NoError(c.t, c.client.Request(c.manager, managerRequestGetInputMethod, c.seat, id))
	require.NotNil(c.t, created)

	r, ok := c.client.Object(id)
	require.True(c.t, ok)
	return r, created
}

func (c *imClient) request(r *loopback.Resource, opcode uint16, args ...any) {
	c.t.Helper()
	require.NoError(c.t, c.client.Request(r, opcode, args...))
}

// grabKeyboard issues grab_keyboard and returns the grab resource, or nil if
// none was created.
func (c *imClient) grabKeyboard(im *loopback.Resource) *loopback.Resource {
	c.t.Helper()
	id := c.client.NewID()
	c.request(im, imRequestGrabKeyboard, id)
	r, ok := c.client.Object(id)
	if !ok {
		return nil
	}
	return r
}

// events drains the client's event log, keeping only events of iface.
func (c *imClient) events(iface string) []loopback.Event {
	all := c.client.TakeEvents()
	var out []loopback.Event
	for _, ev := range all {
		if ev.Interface == iface {
			out = append(out, ev)
		} else {
			closeEventFds([]loopback.Event{ev})
		}
	}
	c.t.Cleanup(func() { closeEventFds(out) })
	return out
}

func eventNames(events []loopback.Event) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = EventName(ev.Interface, ev.Opcode)
	}
	return names
}

func closeEventFds(events []loopback.Event) {
	for _, ev := range events {
		for _, arg := range ev.Args {
			if fd, ok := arg.(wire.Fd); ok {
				_ = unix.Close(int(fd))
			}
		}
	}
}

func strPtr(s string) *string {
	return &s
}
