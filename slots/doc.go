// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package slots evaluates allocation slots against participant session data.

# Session Groups

A session group is the unit of assignment: every session in the group gets the
same slot. A Checker reads the group's session data from a Source and freezes it
into a GroupState:

	checker := slots.NewChecker(src, "exp1", 24*time.Hour, time.Now)
	st, err := checker.State(ctx, group)

	st.Finished() // every session finished
	st.Aborted()  // any session aborted
	st.Expired()  // any session timed out
	st.Pending()  // still holding its slot

A group whose sessions have not started yet stays pending for StartGrace after
its most recent save.

# Slots

A slot is finished once any of its groups finished, pending while any group is
pending, and open otherwise. Abandoned groups stay in the slot forever but stop
counting as pending.

# Manager

Manager holds the ordered slot list of one record. NextPending implements the
inclusive-mode choice among pending slots: fewest pending groups first, then the
oldest latest save.
*/
package slots
