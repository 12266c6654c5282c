package input_method

// Preedit is the text being composed, shown inline at the cursor.
// CursorBegin and CursorEnd are byte offsets into Text; -1 hides the cursor.
type Preedit struct {
	Text        *string
	CursorBegin int32
	CursorEnd   int32
}

// DeleteSurrounding asks for bytes around the cursor to be removed.
type DeleteSurrounding struct {
	BeforeLength uint32
	AfterLength  uint32
}

// State is one double-buffered snapshot of input method requests.
// The zero value is the empty state.
type State struct {
	CommitText        *string
	Preedit           Preedit
	DeleteSurrounding DeleteSurrounding
}

// IsEmpty reports whether no request is recorded in s.
func (s State) IsEmpty() bool {
	return s.CommitText == nil && s.Preedit == (Preedit{}) && s.DeleteSurrounding == (DeleteSurrounding{})
}
