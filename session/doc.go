// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package session tracks one participant's run of an experiment.

# Lifecycle

	s, err := session.Create(ctx, sessions, session.Config{ExpID: "exp1", Version: "1.0", Timeout: time.Hour})
	s.Start(ctx)  // exp_start_time
	s.Save(ctx)   // exp_save_time
	s.Finish(ctx) // exp_finished

Create saves immediately, so an assigned session always has data the
allocation engine can read. Abort marks the session aborted with a reason and
an optional page to show instead of the experiment.

Session identifiers are random UUIDs.
*/
package session
