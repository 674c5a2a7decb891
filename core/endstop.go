package core

import "fmt"

// Endstops reads limit switches and the probe input from GPIO pins.
// Limits() and Probe() return logical levels: true/set means triggered,
// after the invert masks are applied.
//
// When sampling is started, a timer reads the limit pins every SampleTicks
// and only reports a new mask after it was seen SampleCount times in a row.
type Endstops struct {
	gpio        GPIODriver
	limitPins   []GPIOPin
	probePin    *GPIOPin
	limitInvert uint8
	probeInvert bool

	// Debounce state
	timer       Timer
	sampleTicks uint32
	sampleCount uint8
	candidate   uint8
	seen        uint8
	stable      uint8
	sampling    bool
	onChange    func(limits uint8)
}

// NewEndstops configures the pins as pulled-up inputs. limitPins[i] is the
// switch of axis i. probePin may be nil.
func NewEndstops(gpio GPIODriver, limitPins []GPIOPin, probePin *GPIOPin, limitInvert uint8, probeInvert bool) (*Endstops, error) {
	if err := configurePins(limitPins, "endstops: limit", gpio.ConfigureInputPullUp); err != nil {
		return nil, err
	}
	if probePin != nil {
		if err := gpio.ConfigureInputPullUp(*probePin); err != nil {
			return nil, fmt.Errorf("endstops: probe pin %d: %w", *probePin, err)
		}
	}
	es := &Endstops{
		gpio:        gpio,
		limitPins:   limitPins,
		probePin:    probePin,
		limitInvert: limitInvert,
		probeInvert: probeInvert,
	}
	es.timer.Handler = es.sampleEvent
	return es, nil
}

// read returns the current logical limit mask
func (es *Endstops) read() uint8 {
	return readPinMask(es.gpio, es.limitPins) ^ es.limitInvert
}

// Limits returns the limit switch mask. With sampling running it is the
// debounced value.
func (es *Endstops) Limits() uint8 {
	if es.sampling {
		return es.stable
	}
	return es.read()
}

// Probe returns true while the probe is in contact
func (es *Endstops) Probe() bool {
	if es.probePin == nil {
		return false
	}
	return es.gpio.ReadPin(*es.probePin) != es.probeInvert
}

// StartSampling arms the debounce timer. onChange runs from the timer
// handler each time the debounced mask changes and may be nil.
func (es *Endstops) StartSampling(sampleTicks uint32, sampleCount uint8, onChange func(limits uint8)) {
	if sampleCount == 0 {
		sampleCount = 1
	}
	es.StopSampling()
	es.sampleTicks = sampleTicks
	es.sampleCount = sampleCount
	es.onChange = onChange
	es.stable = es.read()
	es.candidate = es.stable
	es.seen = 0
	es.sampling = true
	es.timer.WakeTime = GetTime() + sampleTicks
	ScheduleTimer(&es.timer)
}

// StopSampling disarms the debounce timer
func (es *Endstops) StopSampling() {
	es.sampling = false
	CancelTimer(&es.timer)
}

// sampleEvent is the timer callback
func (es *Endstops) sampleEvent(t *Timer) uint8 {
	if !es.sampling {
		return SF_DONE
	}
	t.WakeTime += es.sampleTicks

	mask := es.read()
	if mask == es.stable {
		es.seen = 0
		return SF_RESCHEDULE
	}
	if mask != es.candidate {
		es.candidate = mask
		es.seen = 1
	} else {
		es.seen++
	}
	if es.seen < es.sampleCount {
		return SF_RESCHEDULE
	}

	es.stable = mask
	es.seen = 0
	if es.onChange != nil {
		es.onChange(mask)
	}
	return SF_RESCHEDULE
}
