package sandbox

import (
	"context"
	"errors"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/mmspellbook/spellbook/pkg/types"
	"github.com/mmspellbook/spellbook/pkg/vm"
)

var log = commonlog.GetLogger("spellbook.sandbox")

// Stats summarises one tick.
type Stats struct {
	Tick         int     `json:"tick"`
	Bodies       int     `json:"bodies"`
	Released     int     `json:"released"`
	Denied       int     `json:"denied"`
	Dissolved    int     `json:"dissolved"`
	Invocations  int     `json:"invocations"`
	Spent        float64 `json:"spent"`
	Held         float64 `json:"held"`
	CastersAlive int     `json:"casters_alive"`
}

// Scheduler runs the sandbox tick loop.
type Scheduler struct {
	World   *World
	Workers int      // concurrent spell runs; 0 means unlimited
	Log     *TickLog // optional
}

// NewScheduler creates a scheduler for the given world.
func NewScheduler(w *World, workers int) *Scheduler {
	return &Scheduler{World: w, Workers: workers}
}

// Tick runs one simulation step:
//
//  1. casters charge and release according to their plans
//  2. every body released before this tick runs its repeat section,
//     concurrently, each against its own energy pool
//  3. results are applied to the world serially in body-id order
//  4. bodies move and damaging bodies strike casters
//
// Runs only read world state, so the outcome does not depend on
// scheduling.
func (s *Scheduler) Tick(ctx context.Context) (Stats, error) {
	w := s.World
	st := Stats{Tick: w.Tick}
	spent, calls := w.Spent, w.Invocations

	var events []Event
	for _, c := range w.Casters {
		events = append(events, s.drive(c, &st)...)
	}

	var bodies []*Body
	for _, b := range w.LiveBodies() {
		if b.Born < w.Tick {
			b.now = float64(w.Tick-b.Born) * w.DT
			bodies = append(bodies, b)
		}
	}
	results := make([]*vm.Result, len(bodies))

	g, gctx := errgroup.WithContext(ctx)
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for i, b := range bodies {
		i, b := i, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.Spell.Tick(b.Owner.Efficiency)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	for i, b := range bodies {
		events = append(events, w.apply(b, results[i])...)
	}

	w.move()
	events = append(events, w.collide()...)
	w.prune()

	for _, e := range events {
		if e.Kind == EventDissolve {
			st.Dissolved++
		}
	}
	st.Bodies = len(w.Bodies)
	st.Held = w.HeldEnergy()
	st.Spent = w.Spent - spent
	st.Invocations = w.Invocations - calls
	for _, c := range w.Casters {
		if c.Alive() {
			st.CastersAlive++
		}
	}

	if s.Log != nil {
		if err := s.Log.Write(TickEntry{Tick: w.Tick, Stats: st, Events: events}); err != nil {
			return st, err
		}
	}
	log.Debugf("tick %d: %d bodies, %d invocations, spent %g", w.Tick, st.Bodies, st.Invocations, st.Spent)
	w.Tick++
	return st, nil
}

// Run advances the world n ticks, stopping early when ctx is done.
func (s *Scheduler) Run(ctx context.Context, n int, each func(Stats)) error {
	for i := 0; i < n; i++ {
		st, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		if each != nil {
			each(st)
		}
	}
	return nil
}

// drive advances c's plan by one tick: the first cast whose window covers
// the tick charges, or releases when its hold is over.
func (s *Scheduler) drive(c *Caster, st *Stats) []Event {
	w := s.World
	if !c.Alive() {
		return nil
	}
	for _, p := range c.Plan {
		end := p.Start + p.Hold
		if w.Tick < p.Start || w.Tick > end {
			continue
		}
		c.Loaded = p.Code
		if w.Tick < end {
			c.Charge(w.DT)
			return nil
		}

		_, events, err := w.Release(c)
		switch {
		case err == nil:
			st.Released++
			return events
		case types.IsKind(err, types.ErrPermissionDenied):
			st.Denied++
			return []Event{{Tick: w.Tick, Kind: EventDenied, Caster: c.Name, Detail: err.Error()}}
		case errors.Is(err, ErrUndercharged):
			return []Event{{Tick: w.Tick, Kind: EventFizzle, Caster: c.Name, Detail: p.Label, Energy: c.Charged}}
		default:
			log.Errorf("%s cannot release %s: %v", c.Name, p.Label, err)
			return []Event{{Tick: w.Tick, Kind: EventFizzle, Caster: c.Name, Detail: err.Error()}}
		}
	}
	return nil
}
