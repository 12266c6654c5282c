package loopback

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bnema/wayime/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type echoHandler struct {
	calls []uint16
}

func (h *echoHandler) HandleRequest(r wire.Resource, opcode uint16, args wire.Args) error {
	h.calls = append(h.calls, opcode)
	switch opcode {
	case 0:
		s, err := args.String(0)
		if err != nil {
			return err
		}
		return r.PostEvent(0, s)
	case 1:
		r.Destroy()
		return nil
	case 2:
		return errors.New("boom")
	}
	return fmt.Errorf("opcode %d: %w", opcode, wire.ErrUnknownOpcode)
}

func newEchoGlobal(t *testing.T, d *Display) (*Global, *echoHandler) {
	t.Helper()
	h := &echoHandler{}
	g, err := d.CreateGlobal("test_echo", 2, func(c wire.Client, version, id uint32) {
		r, err := c.CreateResource("test_echo", version, id)
		if err != nil {
			c.PostNoMemory()
			return
		}
		r.SetHandler(h, nil)
	})
	require.NoError(t, err)
	return g.(*Global), h
}

func TestBindAndRequest(t *testing.T) {
	d := NewDisplay()
	g, h := newEchoGlobal(t, d)
	c := d.Connect("client")

	r, err := c.Bind(g, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.ID())
	assert.Equal(t, uint32(2), r.Version())

	require.NoError(t, c.Request(r, 0, "hello"))
	events := c.TakeEvents()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Client: c.ID(), Object: r.ID(), Interface: "test_echo", Opcode: 0, Args: []any{"hello"}}, events[0])
	assert.Empty(t, c.Events())
	assert.Equal(t, []uint16{0}, h.calls)
}

func TestBindRejectsBadVersionAndRemovedGlobal(t *testing.T) {
	d := NewDisplay()
	g, _ := newEchoGlobal(t, d)
	c := d.Connect("client")

	_, err := c.Bind(g, 3)
	assert.ErrorIs(t, err, wire.ErrInvalidArgument)

	g.Destroy()
	assert.True(t, g.Removed())
	_, ok := d.Global("test_echo")
	assert.False(t, ok)
	_, err = c.Bind(g, 1)
	assert.ErrorIs(t, err, ErrGlobalRemoved)
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		opcode   uint16
		args     []any
		wantCode uint32
	}{
		{name: "bad argument", opcode: 0, args: []any{uint32(7)}, wantCode: wire.DisplayErrorInvalidMethod},
		{name: "unknown opcode", opcode: 9, wantCode: wire.DisplayErrorInvalidMethod},
		{name: "handler failure", opcode: 2, wantCode: wire.DisplayErrorImplementation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDisplay()
			g, _ := newEchoGlobal(t, d)
			c := d.Connect("client")
			r, err := c.Bind(g, 1)
			require.NoError(t, err)

			assert.Error(t, c.Request(r, tt.opcode, tt.args...))
			errs := c.Errors()
			require.Len(t, errs, 1)
			assert.Equal(t, r.ID(), errs[0].Object)
			assert.Equal(t, tt.wantCode, errs[0].Code)
		})
	}
}

func TestRequestOnDestroyedObject(t *testing.T) {
	d := NewDisplay()
	g, _ := newEchoGlobal(t, d)
	c := d.Connect("client")
	r, err := c.Bind(g, 1)
	require.NoError(t, err)

	require.NoError(t, c.Request(r, 1))
	assert.True(t, r.Destroyed())
	_, ok := c.Object(r.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, c.Request(r, 0, "late"), wire.ErrDestroyed)
	assert.ErrorIs(t, r.PostEvent(0), wire.ErrDestroyed)
}

func TestCreateHookAndIDCollision(t *testing.T) {
	d := NewDisplay()
	c := d.Connect("client")

	_, err := c.CreateResource("x", 1, 1)
	assert.ErrorIs(t, err, ErrIDInUse)

	_, err = c.CreateResource("x", 1, 5)
	require.NoError(t, err)
	_, err = c.CreateResource("x", 1, 5)
	assert.ErrorIs(t, err, ErrIDInUse)
	assert.NotEqual(t, uint32(5), c.NewID())

	c.CreateHook = func(iface string, id uint32) error { return errors.New("no memory") }
	_, err = c.CreateResource("x", 1, 9)
	assert.Error(t, err)
}

func TestCloseDestroysNewestFirst(t *testing.T) {
	d := NewDisplay()
	c := d.Connect("client")
	var order []uint32
	for _, id := range []uint32{3, 7, 5} {
		r, err := c.CreateResource("x", 1, id)
		require.NoError(t, err)
		r.SetHandler(nil, func(r wire.Resource) { order = append(order, r.ID()) })
	}

	c.Close()
	assert.Equal(t, []uint32{7, 5, 3}, order)
	assert.True(t, c.Closed())
	assert.Empty(t, d.Clients())
	_, err := c.CreateResource("x", 1, 9)
	assert.ErrorIs(t, err, ErrClientClosed)

	c.Close()
	assert.Len(t, order, 3)
}

func TestPostEventDuplicatesFds(t *testing.T) {
	d := NewDisplay()
	c := d.Connect("client")
	r, err := c.CreateResource("x", 1, 2)
	require.NoError(t, err)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[1])

	require.NoError(t, r.PostEvent(0, wire.Fd(fds[0])))
	require.NoError(t, unix.Close(fds[0]))

	events := c.TakeEvents()
	require.Len(t, events, 1)
	dup, ok := events[0].Args[0].(wire.Fd)
	require.True(t, ok)
	assert.NotEqual(t, wire.Fd(fds[0]), dup)

	_, err = unix.Write(fds[1], []byte("k"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	n, err := unix.Read(int(dup), buf)
	require.NoError(t, err)
	assert.Equal(t, "k", string(buf[:n]))
	require.NoError(t, unix.Close(int(dup)))
}

func TestObserve(t *testing.T) {
	d := NewDisplay()
	g, _ := newEchoGlobal(t, d)
	c := d.Connect("client")
	r, err := c.Bind(g, 1)
	require.NoError(t, err)

	var seen []Message
	l := d.Observe(func(m Message) { seen = append(seen, m) })

	require.NoError(t, c.Request(r, 0, "hi"))
	_ = c.Request(r, 2)
	c.PostNoMemory()

	require.Len(t, seen, 5)
	assert.Equal(t, KindRequest, seen[0].Kind)
	assert.Equal(t, KindEvent, seen[1].Kind)
	assert.Equal(t, []any{"hi"}, seen[1].Args)
	assert.Equal(t, KindRequest, seen[2].Kind)
	assert.Equal(t, KindError, seen[3].Kind)
	assert.Equal(t, "test_echo", seen[3].Interface)
	assert.Equal(t, KindError, seen[4].Kind)
	assert.Equal(t, "wl_display", seen[4].Interface)
	assert.Equal(t, []any{wire.DisplayErrorNoMemory, "no memory"}, seen[4].Args)

	l.Remove()
	require.NoError(t, c.Request(r, 0, "quiet"))
	assert.Len(t, seen, 5)
}

func TestDisplayDestroy(t *testing.T) {
	d := NewDisplay()
	newEchoGlobal(t, d)
	a := d.Connect("a")
	b := d.Connect("b")

	calls := 0
	d.AddDestroyListener(func(wire.Display) {
		calls++
		assert.False(t, a.Closed())
	})

	d.Destroy()
	d.Destroy()
	assert.Equal(t, 1, calls)
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Empty(t, d.Globals())

	_, err := d.CreateGlobal("late", 1, func(wire.Client, uint32, uint32) {})
	assert.Error(t, err)
}
