package domain

import "fmt"

// AppType identifies one of the front-end applications participating in a
// coordinated session.
type AppType string

const (
	AppViewer    AppType = "viewer"
	AppDictation AppType = "dictation"
	AppWorklist  AppType = "worklist"
	AppAdmin     AppType = "admin"
)

// AppTypes lists every valid application type.
var AppTypes = []AppType{AppViewer, AppDictation, AppWorklist, AppAdmin}

// Valid reports whether t is one of the known application types.
func (t AppType) Valid() bool {
	switch t {
	case AppViewer, AppDictation, AppWorklist, AppAdmin:
		return true
	}
	return false
}

func (t AppType) String() string { return string(t) }

// ParseAppType converts a raw string into an AppType, rejecting values
// outside the known application types.
func ParseAppType(s string) (AppType, error) {
	t := AppType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown application type %q", s)
	}
	return t, nil
}
