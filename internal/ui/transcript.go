package ui

import (
	"fmt"
	"strings"

	"github.com/bnema/wayime/input_method"
	"github.com/bnema/wayime/internal/loopback"
	"github.com/bnema/wayime/internal/seat"
	"github.com/bnema/wayime/internal/trace"
)

// MessageName resolves the protocol name of a request or event.
func MessageName(kind loopback.MessageKind, iface string, opcode uint16) string {
	seatOwned := iface == seat.SeatInterface || iface == seat.KeyboardInterface
	switch {
	case kind == loopback.KindRequest && seatOwned:
		return seat.RequestName(iface, opcode)
	case kind == loopback.KindRequest:
		return input_method.RequestName(iface, opcode)
	case seatOwned:
		return seat.EventName(iface, opcode)
	}
	return input_method.EventName(iface, opcode)
}

// FormatRecord renders one trace record as a transcript line, e.g.
//
//	#4 → c1 zwp_input_method_v2@3.commit_string("hi")
func FormatRecord(rec trace.Record) string {
	args := make([]string, len(rec.Args))
	for i, arg := range rec.Args {
		args[i] = arg.String()
	}

	prefix := SubtleStyle.Render(fmt.Sprintf("#%d", rec.Seq))
	target := ObjectStyle.Render(fmt.Sprintf("c%d %s@%d", rec.Client, rec.Interface, rec.Object))

	switch rec.Kind {
	case loopback.KindRequest:
		name := MessageName(rec.Kind, rec.Interface, rec.Opcode)
		return fmt.Sprintf("%s %s %s.%s(%s)", prefix, RequestStyle.Render(IconRequest), target,
			RequestStyle.Render(name), strings.Join(args, ", "))
	case loopback.KindEvent:
		name := MessageName(rec.Kind, rec.Interface, rec.Opcode)
		return fmt.Sprintf("%s %s %s.%s(%s)", prefix, EventStyle.Render(IconEvent), target,
			EventStyle.Render(name), strings.Join(args, ", "))
	case loopback.KindError:
		return fmt.Sprintf("%s %s %s %s", prefix, ProtocolErrorStyle.Render(IconError), target,
			ProtocolErrorStyle.Render("error("+strings.Join(args, ", ")+")"))
	}
	return fmt.Sprintf("%s ? %s", prefix, target)
}

func formatOptional(s *string) string {
	if s == nil {
		return "nil"
	}
	return fmt.Sprintf("%q", *s)
}

// FormatState renders committed input method state.
func FormatState(s input_method.State) []string {
	return []string{
		FormatKeyValue("commit", formatOptional(s.CommitText)),
		FormatKeyValue("preedit", fmt.Sprintf("%s [%d, %d]", formatOptional(s.Preedit.Text),
			s.Preedit.CursorBegin, s.Preedit.CursorEnd)),
		FormatKeyValue("delete", fmt.Sprintf("before=%d after=%d",
			s.DeleteSurrounding.BeforeLength, s.DeleteSurrounding.AfterLength)),
	}
}

// FormatInputMethod renders a session summary under name.
func FormatInputMethod(name string, im *input_method.InputMethod) string {
	status := fmt.Sprintf("%s (input method %d)", name, im.ID())
	if im.Destroyed() {
		status += " " + WarningStyle.Render("unavailable")
	}

	lines := []string{FormatStatus(im.Active(), status)}
	lines = append(lines, FormatKeyValue("serial", fmt.Sprintf("%d", im.CurrentSerial())))
	lines = append(lines, FormatKeyValue("client active", fmt.Sprintf("%t", im.ClientActive())))
	lines = append(lines, FormatState(im.Current())...)
	if grab := im.KeyboardGrab(); grab != nil {
		lines = append(lines, FormatKeyValue("keyboard grab", fmt.Sprintf("grabbed=%t serial=%d", grab.Grabbed(), grab.Serial())))
	}
	return strings.Join(lines, "\n")
}
