// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"github.com/hashicorp/go-multierror"

	"github.com/Query-farm/vgi-vtab/vtab"
)

// RegisterFunctions registers all conformance functions on session.
// tracker observes the closeable data of the "resources" function and may
// be nil.
func RegisterFunctions(session *vtab.Session, tracker *Tracker) error {
	if tracker == nil {
		tracker = &Tracker{}
	}
	var result *multierror.Error
	add := func(err error) {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	add(vtab.Register[counterBind, counterInit](session, "counter", Counter{}))
	add(vtab.Register[struct{}, struct{}](session, "empty", Empty{}))
	add(vtab.Register[echoBind, onceInit](session, "echo", Echo{}))
	add(vtab.Register[struct{}, onceInit](session, "all_types", AllTypes{}))
	add(vtab.Register[struct{}, projectedInit](session, "projected", Projected{}))
	add(vtab.Register[struct{}, onceInit](session, "log_levels", LogLevels{}))
	add(vtab.Register[failBind, failInit](session, "fail", Fail{}))
	add(vtab.Register[panicBind, onceInit](session, "panic", Panic{}))
	add(vtab.Register[ResourceBind, ResourceInit](session, "resources", Resources{Tracker: tracker}))
	return result.ErrorOrNil()
}

// ExtInit registers the conformance functions without a tracker. It has
// the shape of a vtab.EntryPoint.
func ExtInit(session *vtab.Session) error {
	return RegisterFunctions(session, nil)
}
