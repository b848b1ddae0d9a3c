package probe

import "context"

type unavailable struct {
	kind Kind
	err  error
}

// Unavailable returns a Connector whose every Connect fails with err,
// classified as StatusConfigError. It stands in for a dependency whose
// configuration is invalid, so the dependency still shows up as down.
func Unavailable(kind Kind, err error) Connector {
	return unavailable{kind: kind, err: err}
}

func (u unavailable) Connect(context.Context) (Conn, error) {
	return nil, &ClassifiedCheckError{Category: StatusConfigError, Cause: u.err}
}

func (u unavailable) Kind() Kind { return u.kind }
