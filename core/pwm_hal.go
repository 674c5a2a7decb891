package core

// PWMPin identifies a hardware pin capable of PWM output
type PWMPin uint32

// PWMValue is the duty cycle value (0 to GetMaxValue)
type PWMValue uint32

// PWMDriver is the abstract PWM interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type PWMDriver interface {
	// ConfigureHardwarePWM configures a pin for hardware PWM output.
	// Returns the actual cycle ticks used.
	ConfigureHardwarePWM(pin PWMPin, cycleTicks uint32) (uint32, error)

	// SetDutyCycle sets the PWM duty cycle for a pin
	SetDutyCycle(pin PWMPin, value PWMValue) error

	// GetMaxValue returns the maximum PWM value
	GetMaxValue() uint32
}

// PWMTool is a ToolOutput with the spindle speed on a PWM pin, an optional
// direction pin and optional coolant pins on GPIO.
type PWMTool struct {
	pwm      PWMDriver
	gpio     GPIODriver
	speedPin PWMPin
	dirPin   *GPIOPin
	coolant  []GPIOPin

	speed int16
	mask  uint8
}

// NewPWMTool configures the spindle PWM pin. gpio may be nil when there is
// no direction or coolant pin.
func NewPWMTool(pwm PWMDriver, speedPin PWMPin, cycleTicks uint32, gpio GPIODriver, dirPin *GPIOPin, coolant ...GPIOPin) (*PWMTool, error) {
	if _, err := pwm.ConfigureHardwarePWM(speedPin, cycleTicks); err != nil {
		return nil, err
	}
	if gpio != nil {
		if dirPin != nil {
			if err := gpio.ConfigureOutput(*dirPin); err != nil {
				return nil, err
			}
		}
		for _, pin := range coolant {
			if err := gpio.ConfigureOutput(pin); err != nil {
				return nil, err
			}
		}
	}
	return &PWMTool{pwm: pwm, gpio: gpio, speedPin: speedPin, dirPin: dirPin, coolant: coolant}, nil
}

// SetSpeed implements ToolOutput
func (t *PWMTool) SetSpeed(value int16) {
	t.speed = value
	mag := int32(value)
	if mag < 0 {
		mag = -mag
	}
	if mag > 255 {
		mag = 255
	}
	duty := uint32(mag) * t.pwm.GetMaxValue() / 255
	t.pwm.SetDutyCycle(t.speedPin, PWMValue(duty))
	if t.gpio != nil && t.dirPin != nil {
		t.gpio.SetPin(*t.dirPin, value < 0)
	}
}

// SetCoolant implements ToolOutput
func (t *PWMTool) SetCoolant(mask uint8) {
	t.mask = mask
	if t.gpio == nil {
		return
	}
	for i, pin := range t.coolant {
		t.gpio.SetPin(pin, mask&(1<<i) != 0)
	}
}

// Speed returns the last speed command
func (t *PWMTool) Speed() int16 {
	return t.speed
}
