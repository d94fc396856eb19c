package librarypanels

import "errors"

var (
	// ErrMalformedReference marks a panel entry whose library reference lacks a
	// required uid or name. Such a dashboard was never validly linked.
	ErrMalformedReference = errors.New("malformed library panel reference")

	// ErrDanglingReference marks a dashboard that claims a library panel the
	// link table does not record for it.
	ErrDanglingReference = errors.New("library panel is not connected to the dashboard")

	// ErrDashboardMissingIdentity marks a link attempt on a dashboard that has
	// not been persisted yet.
	ErrDashboardMissingIdentity = errors.New("dashboard is missing an id or uid")
)
