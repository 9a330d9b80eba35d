package picking

// Selection is the hit that won arbitration, tagged with the picker that
// produced it.
type Selection struct {
	Owner string
	Hit   HitResult
}

func (s Selection) same(o Selection) bool {
	return s.Owner == o.Owner && s.Hit.ID == o.Hit.ID
}

// Arbiter chooses one hit per frame among several pickers: the hit with the
// smallest ray length wins, the first offered on a tie. Hover changes are
// reported through OnEnter and OnLeave.
type Arbiter struct {
	OnEnter func(Selection)
	OnLeave func(Selection)
	OnClick func(Selection)

	best    Selection
	hasBest bool

	current    Selection
	hasCurrent bool
}

// Begin starts a new frame of offers.
func (a *Arbiter) Begin() {
	a.best = Selection{}
	a.hasBest = false
}

// Offer submits one picker's result for this frame. Misses are ignored.
func (a *Arbiter) Offer(owner string, hit HitResult) {
	if !hit.Hit {
		return
	}
	if a.hasBest && hit.RayLength >= a.best.Hit.RayLength {
		return
	}
	a.best = Selection{Owner: owner, Hit: hit}
	a.hasBest = true
}

// Resolve ends the frame and updates the selection. A frame without any hit
// clears it.
func (a *Arbiter) Resolve() (Selection, bool) {
	switch {
	case !a.hasBest:
		if a.hasCurrent {
			prev := a.current
			a.current, a.hasCurrent = Selection{}, false
			a.fire(a.OnLeave, prev)
		}
	case !a.hasCurrent:
		a.current, a.hasCurrent = a.best, true
		a.fire(a.OnEnter, a.current)
	case !a.current.same(a.best):
		prev := a.current
		a.current = a.best
		a.fire(a.OnLeave, prev)
		a.fire(a.OnEnter, a.current)
	default:
		a.current = a.best
	}
	return a.current, a.hasCurrent
}

// Current returns the selection from the last Resolve.
func (a *Arbiter) Current() (Selection, bool) {
	return a.current, a.hasCurrent
}

// Click reports a click on the current selection, if any.
func (a *Arbiter) Click() (Selection, bool) {
	if !a.hasCurrent {
		return Selection{}, false
	}
	a.fire(a.OnClick, a.current)
	return a.current, true
}

func (a *Arbiter) fire(fn func(Selection), s Selection) {
	if fn != nil {
		fn(s)
	}
}
