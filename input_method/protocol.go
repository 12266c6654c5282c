// Package input_method implements the compositor side of the
// input-method-unstable-v2 Wayland protocol.
//
// An input method editor binds zwp_input_method_manager_v2, asks for a
// zwp_input_method_v2 on a seat and then exchanges double-buffered text
// composition state with the compositor. It may also grab the seat keyboard,
// after which raw key and modifier events are forwarded to it instead of
// the focused client.
//
// # Basic Usage
//
//	manager, err := input_method.NewManager(display, seat)
//	manager.Events.InputMethod.Add(func(im *input_method.InputMethod) {
//		im.Events.Commit.Add(func(im *input_method.InputMethod) {
//			state := im.Current()
//			// apply state.CommitText, state.Preedit, state.DeleteSurrounding
//		})
//	})
//
//	// when a text field gains focus
//	im.SendActivate()
//	im.SendContentType(input_method.ContentHintNone, input_method.ContentPurposeNormal)
//	im.SendDone()
package input_method

import (
	"errors"
	"fmt"
)

// Protocol interface names
const (
	ManagerInterface      = "zwp_input_method_manager_v2"
	InputMethodInterface  = "zwp_input_method_v2"
	KeyboardGrabInterface = "zwp_input_method_keyboard_grab_v2"
	PopupSurfaceInterface = "zwp_input_popup_surface_v2"

	// ManagerVersion is the advertised version of the manager global.
	ManagerVersion = 1
)

// zwp_input_method_manager_v2 requests
const (
	managerRequestGetInputMethod = 0
	managerRequestDestroy        = 1
)

// zwp_input_method_v2 requests
const (
	imRequestCommitString          = 0
	imRequestSetPreeditString      = 1
	imRequestDeleteSurroundingText = 2
	imRequestCommit                = 3
	imRequestGetInputPopupSurface  = 4
	imRequestGrabKeyboard          = 5
	imRequestDestroy               = 6
)

// zwp_input_method_v2 events
const (
	imEventActivate        = 0
	imEventDeactivate      = 1
	imEventSurroundingText = 2
	imEventTextChangeCause = 3
	imEventContentType     = 4
	imEventDone            = 5
	imEventUnavailable     = 6
)

// zwp_input_method_keyboard_grab_v2 requests/events
const (
	grabRequestRelease = 0

	grabEventKeymap     = 0
	grabEventKey        = 1
	grabEventModifiers  = 2
	grabEventRepeatInfo = 3
)

// Error codes of zwp_input_method_v2
const (
	ErrorRole uint32 = 0 // wl_surface has another role
)

// ChangeCause tells the input method why the surrounding text changed
// (zwp_text_input_v3.change_cause).
type ChangeCause uint32

const (
	ChangeCauseInputMethod ChangeCause = 0 // caused by this input method
	ChangeCauseOther       ChangeCause = 1 // caused by anything else
)

// ContentHint is a bitmask describing the focused text field.
type ContentHint uint32

const (
	ContentHintNone               ContentHint = 0x0
	ContentHintCompletion         ContentHint = 0x1
	ContentHintSpellcheck         ContentHint = 0x2
	ContentHintAutoCapitalization ContentHint = 0x4
	ContentHintLowercase          ContentHint = 0x8
	ContentHintUppercase          ContentHint = 0x10
	ContentHintTitlecase          ContentHint = 0x20
	ContentHintHiddenText         ContentHint = 0x40
	ContentHintSensitiveData      ContentHint = 0x80
	ContentHintLatin              ContentHint = 0x100
	ContentHintMultiline          ContentHint = 0x200
)

// ContentPurpose is the primary purpose of the focused text field.
type ContentPurpose uint32

const (
	ContentPurposeNormal ContentPurpose = iota
	ContentPurposeAlpha
	ContentPurposeDigits
	ContentPurposeNumber
	ContentPurposePhone
	ContentPurposeURL
	ContentPurposeEmail
	ContentPurposeName
	ContentPurposePassword
	ContentPurposePin
	ContentPurposeDate
	ContentPurposeTime
	ContentPurposeDatetime
	ContentPurposeTerminal
)

// ErrNoMemory is reported to the client as wl_display.error(no_memory).
var ErrNoMemory = errors.New("out of memory")

var eventNameTable = map[string][]string{
	InputMethodInterface: {
		"activate", "deactivate", "surrounding_text", "text_change_cause",
		"content_type", "done", "unavailable",
	},
	KeyboardGrabInterface: {"keymap", "key", "modifiers", "repeat_info"},
	PopupSurfaceInterface: {"text_input_rectangle"},
}

var requestNameTable = map[string][]string{
	ManagerInterface: {"get_input_method", "destroy"},
	InputMethodInterface: {
		"commit_string", "set_preedit_string", "delete_surrounding_text",
		"commit", "get_input_popup_surface", "grab_keyboard", "destroy",
	},
	KeyboardGrabInterface: {"release"},
	PopupSurfaceInterface: {"destroy"},
}

// EventName returns the protocol name of an event, or a placeholder for
// interfaces and opcodes this package does not define.
func EventName(iface string, opcode uint16) string {
	return lookupName(eventNameTable, iface, opcode)
}

// RequestName returns the protocol name of a request.
func RequestName(iface string, opcode uint16) string {
	return lookupName(requestNameTable, iface, opcode)
}

// RequestOpcode is the inverse of RequestName.
func RequestOpcode(iface, name string) (uint16, bool) {
	for opcode, n := range requestNameTable[iface] {
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
