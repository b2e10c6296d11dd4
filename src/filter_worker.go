package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/ryansname/backlashctl/src/governor"
)

// How often adaptive filters re-estimate noise and resize their deadband
const adaptInterval = 30 * time.Second

// FilterCommandKind selects the filter operation a FilterCommand performs
type FilterCommandKind int

const (
	CommandSnapshot FilterCommandKind = iota // Report state only
	CommandSetWidth                          // SetDeadbandWidth(Value)
	CommandSetValue                          // SetValue(Value), borders untouched
	CommandCenter                            // CenterBorders(Value)
)

func (k FilterCommandKind) String() string {
	switch k {
	case CommandSnapshot:
		return "snapshot"
	case CommandSetWidth:
		return "width"
	case CommandSetValue:
		return "set"
	case CommandCenter:
		return "center"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

var errNegativeWidth = errors.New("deadband width must not be negative")

// FilterCommand is a runtime adjustment sent to a filter worker
type FilterCommand struct {
	Kind  FilterCommandKind
	Value float64
	Reply chan<- FilterReply // Optional, must be buffered
}

// FilterReply answers a FilterCommand
type FilterReply struct {
	Snapshot FilterSnapshot
	Err      error
}

// FilterSnapshot is a point-in-time copy of a filter's state
type FilterSnapshot struct {
	Name     string
	Raw      float64
	Value    float64
	Lower    float64
	Upper    float64
	Width    float64
	Adaptive bool
	Samples  int
}

// filterState is everything a filter worker owns. It is only touched from the
// worker goroutine, which gives Backlash the exclusive access it requires.
type filterState struct {
	config    FilterConfig
	filter    governor.Backlash[float64]
	hourRange governor.RollingRange[float64]
	readings  Readings
	adaptive  bool
	raw       float64
	samples   int

	lastPublished *FilterState
}

func newFilterState(config FilterConfig) *filterState {
	return &filterState{
		config:    config,
		filter:    governor.NewBacklash(config.DeadbandWidth),
		hourRange: governor.NewRollingRange[float64](),
		adaptive:  config.Adaptive.Enabled(),
	}
}

// update feeds a raw sample through the filter.
// The first sample primes the filter so the output starts at the input rather than
// ramping away from zero.
func (s *filterState) update(value float64, now time.Time) {
	if s.samples == 0 {
		s.filter.SetValue(value)
		s.filter.CenterBorders(value)
	}

	s.filter.Update(value)
	s.raw = value
	s.samples++
	s.hourRange.Update(value, now)

	if s.adaptive {
		s.readings = append(s.readings, Reading{Value: value, Timestamp: now})
	}
}

// apply runs a command against the filter
func (s *filterState) apply(cmd FilterCommand) error {
	if math.IsNaN(cmd.Value) || math.IsInf(cmd.Value, 0) {
		return errNonFinite
	}

	switch cmd.Kind {
	case CommandSnapshot:
	case CommandSetWidth:
		if cmd.Value < 0 {
			return errNegativeWidth
		}
		if s.adaptive {
			log.Printf("%s: manual width set, adaptive width disabled\n", s.config.Name)
			s.adaptive = false
			s.readings = nil
		}
		s.filter.SetDeadbandWidth(cmd.Value)
	case CommandSetValue:
		s.filter.SetValue(cmd.Value)
	case CommandCenter:
		s.filter.CenterBorders(cmd.Value)
	default:
		return fmt.Errorf("unknown command %v", cmd.Kind)
	}
	return nil
}

// adapt re-estimates the noise level and resizes the deadband.
// Returns true if the width changed.
func (s *filterState) adapt(now time.Time) bool {
	if !s.adaptive {
		return false
	}

	cfg := s.config.Adaptive
	s.readings = s.readings.Prune(now.Add(-cfg.Window))
	if len(s.readings) < 2 {
		return false
	}

	spread := noiseSpread(s.readings, cfg.Window, now)
	width := adaptiveWidth(cfg, spread, s.hourRange.Span(now))
	if width == s.filter.DeadbandWidth() {
		return false
	}

	log.Printf("%s: noise spread %.3f, deadband width %.3f -> %.3f\n",
		s.config.Name, spread, s.filter.DeadbandWidth(), width)
	s.filter.SetDeadbandWidth(width)
	return true
}

func (s *filterState) state(now time.Time) FilterState {
	lower, upper := s.filter.Borders()
	rawMin, rawMax, _ := s.hourRange.Bounds(now)
	return FilterState{
		Value:    s.filter.Value(),
		Raw:      s.raw,
		Lower:    lower,
		Upper:    upper,
		Width:    s.filter.DeadbandWidth(),
		RawMin1h: rawMin,
		RawMax1h: rawMax,
	}
}

func (s *filterState) snapshot() FilterSnapshot {
	lower, upper := s.filter.Borders()
	return FilterSnapshot{
		Name:     s.config.Name,
		Raw:      s.raw,
		Value:    s.filter.Value(),
		Lower:    lower,
		Upper:    upper,
		Width:    s.filter.DeadbandWidth(),
		Adaptive: s.adaptive,
		Samples:  s.samples,
	}
}

// pendingState returns the state to publish, or false if nothing downstream
// would see a difference. Raw input alone never triggers a publish.
func (s *filterState) pendingState(now time.Time) (FilterState, bool) {
	if s.samples == 0 {
		return FilterState{}, false
	}

	st := s.state(now)
	if prev := s.lastPublished; prev != nil &&
		prev.Value == st.Value && prev.Lower == st.Lower &&
		prev.Upper == st.Upper && prev.Width == st.Width {
		return st, false
	}
	return st, true
}

// filterWorker runs one backlash filter over the samples of its input topic and
// publishes the filtered value whenever it changes
func filterWorker(
	ctx context.Context,
	config FilterConfig,
	dataChan <-chan SensorMessage,
	commandChan <-chan FilterCommand,
	snapshotChan chan<- FilterSnapshot,
	sender *MQTTSender,
) {
	s := newFilterState(config)
	log.Printf("%s filter worker started (%s, width %.3f, adaptive %v)\n",
		config.Name, config.InputTopic, s.filter.DeadbandWidth(), s.adaptive)

	var adaptTickerC <-chan time.Time
	if s.adaptive {
		adaptTicker := time.NewTicker(adaptInterval)
		defer adaptTicker.Stop()
		adaptTickerC = adaptTicker.C
	}

	publish := func(now time.Time) {
		st, changed := s.pendingState(now)
		if !changed {
			return
		}
		if err := sender.PublishFilterState(config, st); err != nil {
			log.Printf("%s: Failed to publish state: %v\n", config.Name, err)
			return
		}
		s.lastPublished = &st

		select {
		case snapshotChan <- s.snapshot():
		default:
		}
	}

	for {
		select {
		case msg := <-dataChan:
			value, err := parseFinite(msg.Value)
			if err != nil {
				log.Printf("%s: ignoring sample %q: %v\n", config.Name, msg.Value, err)
				continue
			}
			now := time.Now()
			s.update(value, now)
			publish(now)

		case cmd := <-commandChan:
			err := s.apply(cmd)
			if err != nil {
				log.Printf("%s: %s %v failed: %v\n", config.Name, cmd.Kind, cmd.Value, err)
			} else if cmd.Kind != CommandSnapshot {
				log.Printf("%s: %s %v -> %s\n", config.Name, cmd.Kind, cmd.Value, s.filter)
				publish(time.Now())
			}
			if cmd.Reply != nil {
				cmd.Reply <- FilterReply{Snapshot: s.snapshot(), Err: err}
			}

		case now := <-adaptTickerC:
			if s.adapt(now) {
				publish(now)
			}

		case <-ctx.Done():
			log.Printf("%s filter worker stopped\n", config.Name)
			return
		}
	}
}
