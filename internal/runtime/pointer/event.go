package pointer

// Action is the masked action of a raw motion event.
type Action int

const (
	ActionDown Action = iota
	ActionUp
	ActionMove
	ActionCancel
	ActionOutside
	ActionPointerDown
	ActionPointerUp
	ActionHoverMove
	ActionScroll
	ActionHoverEnter
	ActionHoverExit
)

// ToolType identifies what produced a contact.
type ToolType int

const (
	ToolUnknown ToolType = iota
	ToolFinger
	ToolStylus
	ToolMouse
	ToolEraser
)

// Contact is one tracked pointer within a motion event.
type Contact struct {
	PointerID   int64
	Tool        ToolType
	X, Y        float64
	Pressure    float64
	Distance    float64
	ToolMajor   float64
	ToolMinor   float64
	Orientation float64
	Tilt        float64
}

// Event is a raw motion event as delivered by the embedding shell.
type Event struct {
	Action Action
	// ActionIndex selects the contact a down/up transition applies to.
	ActionIndex     int
	EventTimeMillis int64
	ButtonState     int64
	Contacts        []Contact
}

// ChangeForAction maps a masked action to its pointer change.
func ChangeForAction(a Action) Change {
	switch a {
	case ActionDown, ActionPointerDown:
		return ChangeDown
	case ActionUp, ActionPointerUp:
		return ChangeUp
	case ActionMove:
		return ChangeMove
	case ActionCancel:
		return ChangeCancel
	default:
		return ChangeUnknown
	}
}

// KindForTool maps a tool type to its device kind.
func KindForTool(t ToolType) DeviceKind {
	switch t {
	case ToolFinger:
		return DeviceTouch
	case ToolMouse:
		return DeviceMouse
	case ToolStylus:
		return DeviceStylus
	case ToolEraser:
		return DeviceInvertedStylus
	default:
		return DeviceKindUnknown
	}
}

func isPrimaryTransition(a Action) bool {
	switch a {
	case ActionDown, ActionUp, ActionPointerDown, ActionPointerUp:
		return true
	}
	return false
}

// BatchFromEvent builds the batch for ev. Down and up transitions include
// only the acted-upon contact; every other action includes all tracked
// contacts, moved or not. Pressure is reported on the 0..1 range.
func BatchFromEvent(ev Event) Batch {
	change := ChangeForAction(ev.Action)

	if isPrimaryTransition(ev.Action) {
		if ev.ActionIndex < 0 || ev.ActionIndex >= len(ev.Contacts) {
			return Batch{}
		}
		return Batch{Samples: []Sample{sampleFor(ev, ev.Contacts[ev.ActionIndex], change)}}
	}

	samples := make([]Sample, 0, len(ev.Contacts))
	for _, c := range ev.Contacts {
		samples = append(samples, sampleFor(ev, c, change))
	}
	return Batch{Samples: samples}
}

func sampleFor(ev Event, c Contact, change Change) Sample {
	return Sample{
		EventTimeMillis: ev.EventTimeMillis,
		PointerID:       c.PointerID,
		Change:          change,
		Kind:            KindForTool(c.Tool),
		X:               c.X,
		Y:               c.Y,
		ButtonState:     ev.ButtonState,
		Pressure:        c.Pressure,
		PressureMin:     0,
		PressureMax:     1,
		Distance:        c.Distance,
		RadiusMajor:     c.ToolMajor,
		RadiusMinor:     c.ToolMinor,
		Orientation:     c.Orientation,
		Tilt:            c.Tilt,
	}
}
