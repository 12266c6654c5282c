package seat

import (
	"github.com/bnema/wayime/internal/shm"
	"github.com/bnema/wayime/internal/signal"
)

// DefaultKeymap is a minimal US layout keymap.
const DefaultKeymap = `xkb_keymap {
	xkb_keycodes  { include "evdev+aliases(qwerty)"	};
	xkb_types     { include "complete"	};
	xkb_compat    { include "complete"	};
	xkb_symbols   { include "pc+us+inet(evdev)"	};
	xkb_geometry  { include "pc(pc105)"	};
};`

// Modifiers is the XKB modifier state of a keyboard.
type Modifiers struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Group     uint32
}

// RepeatInfo is the key repeat rate (keys per second) and delay (ms).
type RepeatInfo struct {
	Rate  int32
	Delay int32
}

// Key states (wl_keyboard.key_state).
const (
	KeyReleased uint32 = 0
	KeyPressed  uint32 = 1
)

// KeyboardEvents are emitted after the keyboard state changed.
type KeyboardEvents struct {
	Keymap     signal.Signal[*Keyboard]
	RepeatInfo signal.Signal[*Keyboard]
	Modifiers  signal.Signal[*Keyboard]
}

// Keyboard is the logical keyboard of a seat.
type Keyboard struct {
	keymap     string
	repeatInfo RepeatInfo
	modifiers  Modifiers

	Events KeyboardEvents
}

// NewKeyboard creates a keyboard. An empty keymap selects DefaultKeymap.
func NewKeyboard(keymap string, repeat RepeatInfo) *Keyboard {
	if keymap == "" {
		keymap = DefaultKeymap
	}
	return &Keyboard{keymap: keymap, repeatInfo: repeat}
}

func (k *Keyboard) Keymap() string {
	return k.keymap
}

// KeymapSize is the shared size of the keymap, NUL included.
func (k *Keyboard) KeymapSize() uint32 {
	return shm.KeymapSize(k.keymap)
}

func (k *Keyboard) RepeatInfo() RepeatInfo {
	return k.repeatInfo
}

func (k *Keyboard) Modifiers() Modifiers {
	return k.modifiers
}

// SetKeymap replaces the keymap and notifies subscribers.
func (k *Keyboard) SetKeymap(keymap string) {
	if keymap == "" {
		keymap = DefaultKeymap
	}
	k.keymap = keymap
	k.Events.Keymap.Emit(k)
}

// SetRepeatInfo replaces the repeat info and notifies subscribers.
func (k *Keyboard) SetRepeatInfo(info RepeatInfo) {
	k.repeatInfo = info
	k.Events.RepeatInfo.Emit(k)
}

// SetModifiers records the modifier state reported by the device.
func (k *Keyboard) SetModifiers(mods Modifiers) {
	k.modifiers = mods
	k.Events.Modifiers.Emit(k)
}
