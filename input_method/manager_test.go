package input_method

import (
	"errors"
	"testing"

	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingDisplay struct {
	destroy signal.Signal[wire.Display]
}

func (d *failingDisplay) CreateGlobal(string, uint32, wire.BindFunc) (wire.Global, error) {
	return nil, errors.New("no globals left")
}

func (d *failingDisplay) AddDestroyListener(fn func(wire.Display)) *signal.Listener[wire.Display] {
	return d.destroy.Add(fn)
}

func TestNewManager_AdvertisesGlobal(t *testing.T) {
	f := newFixture(t)

	g, ok := f.display.Global(ManagerInterface)
	require.True(t, ok)
	assert.Equal(t, uint32(ManagerVersion), g.Version())
	assert.Empty(t, f.manager.InputMethods())
}

func TestNewManager_RollsBackOnGlobalFailure(t *testing.T) {
	display := &failingDisplay{}
	m, err := NewManager(display, nil)
	assert.Error(t, err)
	assert.Nil(t, m)

	s, err := seat.New(loopback.NewDisplay(), "seat0", nil)
	require.NoError(t, err)
	m, err = NewManager(display, s)
	assert.Error(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 0, display.destroy.Len(), "no destroy subscription left behind")
}

func TestGetInputMethod_PublishesCreation(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "ime")

	var created []*InputMethod
	f.manager.Events.InputMethod.Add(func(im *InputMethod) {
		created = append(created, im)
		_, listed := f.manager.InputMethod(im.ID())
		assert.True(t, listed, "listed before observers run")
	})

	_, first := c.getInputMethod(f)
	_, second := c.getInputMethod(f)

	assert.Equal(t, []*InputMethod{first, second}, created)
	assert.Equal(t, []*InputMethod{first, second}, f.manager.InputMethods())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, f.seat, first.Seat())
	assert.Equal(t, c.client.ID(), first.Client().ID())
}

func TestGetInputMethod_AllocationFailure(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "ime")
	c.client.CreateHook = func(iface string, id uint32) error {
		if iface == InputMethodInterface {
			return errors.New("allocation failed")
		}
		return nil
	}

	created := 0
	f.manager.Events.InputMethod.Add(func(*InputMethod) { created++ })

	id := c.client.NewID()
	c.request(c.manager, managerRequestGetInputMethod, c.seat, id)

	assert.Equal(t, 0, created)
	assert.Empty(t, f.manager.InputMethods())
	_, ok := c.client.Object(id)
	assert.False(t, ok)

	errs := c.client.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.DisplayErrorNoMemory, errs[0].Code)

	sc, err := f.seat.ClientFromResource(c.seat)
	require.NoError(t, err)
	assert.Equal(t, 0, sc.Events.Destroy.Len(), "no seat subscription leaked")
}

func TestGetInputMethod_RejectsNonSeat(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "ime")

	err := c.client.Request(c.manager, managerRequestGetInputMethod, c.manager, c.client.NewID())
	assert.ErrorIs(t, err, wire.ErrInvalidArgument)
	assert.Empty(t, f.manager.InputMethods())
	assert.Len(t, c.client.Errors(), 1)
}

func TestManagerDestroyRequest_KeepsInputMethods(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "ime")
	_, im := c.getInputMethod(f)

	c.request(c.manager, managerRequestDestroy)

	assert.True(t, c.manager.Destroyed())
	assert.False(t, im.Destroyed())
	assert.Len(t, f.manager.InputMethods(), 1)
}

func TestShutdown_CascadesInOrder(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "ime-a")
	b := f.connect(t, "ime-b")
	ra, imA := a.getInputMethod(f)
	_, imB := b.getInputMethod(f)
	require.NotNil(t, a.grabKeyboard(ra))
	grab := imA.KeyboardGrab()

	var order []string
	grab.Events.Destroy.Add(func(*KeyboardGrab) { order = append(order, "grab") })
	imA.Events.Destroy.Add(func(*InputMethod) { order = append(order, "input_method_a") })
	imB.Events.Destroy.Add(func(*InputMethod) { order = append(order, "input_method_b") })
	f.manager.Events.Destroy.Add(func(*Manager) { order = append(order, "manager") })

	global, ok := f.display.Global(ManagerInterface)
	require.True(t, ok)

	f.display.Destroy()

	assert.Equal(t, []string{"grab", "input_method_a", "input_method_b", "manager"}, order)
	assert.True(t, global.Removed())
	assert.Nil(t, f.seat.KeyboardGrab())
	assert.Empty(t, f.manager.InputMethods())
}

func TestShutdown_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	destroyed := 0
	f.manager.Events.Destroy.Add(func(*Manager) { destroyed++ })

	f.manager.Shutdown()
	f.manager.Shutdown()
	f.display.Destroy()

	assert.Equal(t, 1, destroyed)
}

func TestShutdown_IgnoresLateRequests(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "ime")
	r, im := c.getInputMethod(f)

	f.manager.Shutdown()

	assert.True(t, im.Destroyed())
	c.request(r, imRequestCommitString, "late")
	c.request(c.manager, managerRequestGetInputMethod, c.seat, c.client.NewID())
	assert.Empty(t, f.manager.InputMethods())
	assert.Empty(t, c.client.Errors())
}
