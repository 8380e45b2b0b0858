package editor

import "github.com/HerbHall/exhibitdesk/internal/exhibitsapi"

// OverrideControl is the form element an administrator uses to break
// another user's lock.
const OverrideControl = "unlock"

var commonControls = []string{"title", "description", "save", "delete", "publish"}

var kindControls = map[exhibitsapi.Kind][]string{
	exhibitsapi.KindTimeline: {"year"},
	exhibitsapi.KindMedia:    {"upload"},
	exhibitsapi.KindItem:     {"media_picker"},
}

// Controls returns the editable form elements for kind, including the
// override control.
func Controls(kind exhibitsapi.Kind) []string {
	out := make([]string, 0, len(commonControls)+len(kindControls[kind])+1)
	out = append(out, commonControls...)
	out = append(out, kindControls[kind]...)
	return append(out, OverrideControl)
}
