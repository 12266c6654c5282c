package input_method

import (
	"fmt"
	"sort"

	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/signal"
	"github.com/bnema/wayime/internal/wire"
)

// SeatLocator resolves the wl_seat argument of get_input_method.
type SeatLocator interface {
	ClientFromResource(r wire.Resource) (*seat.Client, error)
}

// ManagerEvents are emitted by the manager.
type ManagerEvents struct {
	// InputMethod fires once a new input method is fully set up.
	InputMethod signal.Signal[*InputMethod]
	Destroy     signal.Signal[*Manager]
}

// Manager advertises zwp_input_method_manager_v2 and owns every live input
// method created through it.
type Manager struct {
	global         wire.Global
	seats          SeatLocator
	inputMethods   map[uint64]*InputMethod
	nextID         uint64
	displayDestroy *signal.Listener[wire.Display]
	shutdown       bool

	Events ManagerEvents
}

// NewManager advertises the manager global on display. It shuts down on its
// own when the display is destroyed.
func NewManager(display wire.Display, seats SeatLocator) (*Manager, error) {
	if seats == nil {
		return nil, fmt.Errorf("input method manager: nil seat locator")
	}
	m := &Manager{
		seats:        seats,
		inputMethods: make(map[uint64]*InputMethod),
		nextID:       1,
	}

	global, err := display.CreateGlobal(ManagerInterface, ManagerVersion, m.bind)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s global: %w", ManagerInterface, err)
	}
	m.global = global
	m.displayDestroy = display.AddDestroyListener(func(wire.Display) {
		m.Shutdown()
	})

	return m, nil
}

func (m *Manager) bind(client wire.Client, version, id uint32) {
	r, err := client.CreateResource(ManagerInterface, version, id)
	if err != nil {
		client.PostNoMemory()
		return
	}
	r.SetHandler(managerHandler{m}, nil)
}

// InputMethods returns the live input methods in creation order.
func (m *Manager) InputMethods() []*InputMethod {
	out := make([]*InputMethod, 0, len(m.inputMethods))
	for _, im := range m.inputMethods {
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// InputMethod returns the live input method with the given id.
func (m *Manager) InputMethod(id uint64) (*InputMethod, bool) {
	im, ok := m.inputMethods[id]
	return im, ok
}

func (m *Manager) getInputMethod(r, seatResource wire.Resource, id uint32) error {
	seatClient, err := m.seats.ClientFromResource(seatResource)
	if err != nil {
		return fmt.Errorf("get_input_method: %v: %w", err, wire.ErrInvalidArgument)
	}

	client := r.Client()
	imResource, err := client.CreateResource(InputMethodInterface, r.Version(), id)
	if err != nil {
		logger.Debugf("input method: failed to create resource: %v", err)
		client.PostNoMemory()
		return nil
	}

	im := newInputMethod(m, m.nextID, imResource, seatClient)
	m.nextID++
	m.inputMethods[im.id] = im

	logger.Debugf("input method %d created for client %d on seat %s", im.id, client.ID(), seatClient.Seat().Name())
	m.Events.InputMethod.Emit(im)
	return nil
}

func (m *Manager) remove(im *InputMethod) {
	delete(m.inputMethods, im.id)
}

// Shutdown tears the manager down: keyboard grabs first, then input methods,
// then the manager itself. It runs automatically on display destruction and
// is idempotent.
func (m *Manager) Shutdown() {
	if m.shutdown {
		return
	}
	m.shutdown = true

	inputMethods := m.InputMethods()
	for _, im := range inputMethods {
		if im.keyboardGrab != nil {
			im.keyboardGrab.destroyResource()
		}
	}
	for _, im := range inputMethods {
		im.destroy()
	}

	m.Events.Destroy.Emit(m)
	m.displayDestroy.Remove()
	m.global.Destroy()
	logger.Debug("input method manager shut down")
}

type managerHandler struct {
	manager *Manager
}

func (h managerHandler) HandleRequest(r wire.Resource, opcode uint16, args wire.Args) error {
	switch opcode {
	case managerRequestGetInputMethod:
		seatResource, err := args.Object(0)
		if err != nil {
			return err
		}
		id, err := args.Uint32(1)
		if err != nil {
			return err
		}
		if h.manager.shutdown {
			return nil
		}
		return h.manager.getInputMethod(r, seatResource, id)
	case managerRequestDestroy:
		r.Destroy()
		return nil
	default:
		return fmt.Errorf("%s opcode %d: %w", ManagerInterface, opcode, wire.ErrUnknownOpcode)
	}
}
