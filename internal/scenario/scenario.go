// Package scenario loads declarative YAML scripts that drive a loopback
// display: clients binding the seat and the input method manager, requests
// they issue, compositor-side events and expectations on the result.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for scenarios that fail validation.
var ErrInvalid = errors.New("invalid scenario")

// Scenario is a named list of steps.
type Scenario struct {
	Name     string        `yaml:"name"`
	Seat     string        `yaml:"seat,omitempty"`
	Keyboard *KeyboardSpec `yaml:"keyboard,omitempty"`
	Steps    []Step        `yaml:"steps"`
}

// KeyboardSpec overrides the seat keyboard for one scenario.
type KeyboardSpec struct {
	KeymapFile  string `yaml:"keymap_file,omitempty"`
	RepeatRate  *int32 `yaml:"repeat_rate,omitempty"`
	RepeatDelay *int32 `yaml:"repeat_delay,omitempty"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op     string `yaml:"op"`
	Client string `yaml:"client,omitempty"`
	Target string `yaml:"target,omitempty"`
	As     string `yaml:"as,omitempty"`

	Text   string  `yaml:"text,omitempty"`
	Cursor uint32  `yaml:"cursor,omitempty"`
	Anchor uint32  `yaml:"anchor,omitempty"`
	Begin  int32   `yaml:"begin,omitempty"`
	End    int32   `yaml:"end,omitempty"`
	Before uint32  `yaml:"before,omitempty"`
	After  uint32  `yaml:"after,omitempty"`
	Serial *uint32 `yaml:"serial,omitempty"`

	Cause   string `yaml:"cause,omitempty"`
	Hint    uint32 `yaml:"hint,omitempty"`
	Purpose uint32 `yaml:"purpose,omitempty"`

	Time      uint32 `yaml:"time,omitempty"`
	Key       uint32 `yaml:"key,omitempty"`
	State     string `yaml:"state,omitempty"`
	Depressed uint32 `yaml:"depressed,omitempty"`
	Latched   uint32 `yaml:"latched,omitempty"`
	Locked    uint32 `yaml:"locked,omitempty"`
	Group     uint32 `yaml:"group,omitempty"`
	Rate      int32  `yaml:"rate,omitempty"`
	Delay     int32  `yaml:"delay,omitempty"`
	Keymap    string `yaml:"keymap,omitempty"`

	Events []string `yaml:"events,omitempty"`
	Want   *Want    `yaml:"want,omitempty"`
}

// Want lists the session properties checked by an expect step. Unset fields
// are not checked.
type Want struct {
	Commit      *string `yaml:"commit,omitempty"`
	Preedit     *string `yaml:"preedit,omitempty"`
	CursorBegin *int32  `yaml:"cursor_begin,omitempty"`
	CursorEnd   *int32  `yaml:"cursor_end,omitempty"`
	Before      *uint32 `yaml:"before,omitempty"`
	After       *uint32 `yaml:"after,omitempty"`
	Serial      *uint32 `yaml:"serial,omitempty"`
	Active      *bool   `yaml:"active,omitempty"`
	Grabbed     *bool   `yaml:"grabbed,omitempty"`
	Unavailable *bool   `yaml:"unavailable,omitempty"`
	Errors      *int    `yaml:"errors,omitempty"`
}

type requirement struct {
	client bool
	target bool
	as     bool
}

var operations = map[string]requirement{
	"connect":       {client: true},
	"disconnect":    {client: true},
	"focus":         {client: true},
	"get_keyboard":  {client: true, as: true},
	"expect_events": {client: true},

	"get_input_method":        {client: true, as: true},
	"commit_string":           {target: true},
	"set_preedit_string":      {target: true},
	"delete_surrounding_text": {target: true},
	"commit":                  {target: true},
	"get_input_popup_surface": {target: true},
	"grab_keyboard":           {target: true},
	"destroy":                 {target: true},
	"release":                 {target: true},

	"activate":          {target: true},
	"deactivate":        {target: true},
	"surrounding_text":  {target: true},
	"text_change_cause": {target: true},
	"content_type":      {target: true},
	"done":              {target: true},
	"unavailable":       {target: true},
	"expect":            {target: true},

	"key":            {},
	"modifiers":      {},
	"repeat_info":    {},
	"keymap":         {},
	"competing_grab": {},
	"end_grab":       {},
	"shutdown":       {},
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every step names a known operation with its required
// fields.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalid)
	}
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalid, i+1, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	req, ok := operations[s.Op]
	if !ok {
		return fmt.Errorf("unknown op %q", s.Op)
	}
	if req.client && s.Client == "" {
		return fmt.Errorf("%s: client is required", s.Op)
	}
	if req.target && s.Target == "" {
		return fmt.Errorf("%s: target is required", s.Op)
	}
	if req.as && s.As == "" {
		return fmt.Errorf("%s: as is required", s.Op)
	}

	switch s.Op {
	case "key":
		if _, err := keyState(s.State); err != nil {
			return err
		}
	case "text_change_cause":
		if _, err := changeCause(s.Cause); err != nil {
			return err
		}
	case "expect":
		if s.Want == nil {
			return fmt.Errorf("expect: want is required")
		}
	}
	return nil
}
