package call

import (
	"log/slog"
	"time"
)

// InputModeController owns which capture mechanism is armed and arbitrates
// hand-off between them. Switching modes always fully tears down the previous
// listener before arming the next, so two consumers never share the device.
//
// Push-to-talk presses are disambiguated by duration: a press shorter than
// TapThreshold toggles push-to-talk mode, a longer press while the mode is on
// opens the mic for exactly the hold and submits on release. A long press
// while the mode is off does nothing. All methods run on the scheduling
// context.
type InputModeController struct {
	cfg    InputConfig
	sched  Scheduler
	logger *slog.Logger
	now    func() time.Time

	mode     Mode
	prevMode Mode

	pressed   bool
	pressedAt time.Time
	holding   bool
	holdTimer Timer

	// OnTeardown must fully stop the old mode's listener before returning.
	OnTeardown func(old Mode)
	// OnArm arms the new mode's listener.
	OnArm func(mode Mode)
	// OnModeChanged fires after a completed switch.
	OnModeChanged func(old, new Mode)
	// OnHoldStart opens the mic for a push-to-talk hold.
	OnHoldStart func()
	// OnHoldEnd closes the mic and submits whatever was captured.
	OnHoldEnd func()
	// OnToggle fires when a tap turns push-to-talk mode on or off.
	OnToggle func(on bool)
}

// NewInputModeController creates a controller starting in cfg.InitialMode.
// The initial mode's listener is not armed here; the session arms it on start.
func NewInputModeController(cfg InputConfig, sched Scheduler, logger *slog.Logger, now func() time.Time) *InputModeController {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	prev := cfg.InitialMode
	if prev == ModePushToTalk {
		prev = ModeAuto
	}
	return &InputModeController{
		cfg:      cfg,
		sched:    sched,
		logger:   logger,
		now:      now,
		mode:     cfg.InitialMode,
		prevMode: prev,
	}
}

// Mode returns the active capture mode.
func (c *InputModeController) Mode() Mode { return c.mode }

// Holding reports whether a push-to-talk hold is open.
func (c *InputModeController) Holding() bool { return c.holding }

// BoundControl returns the configured physical control, or "".
func (c *InputModeController) BoundControl() string { return c.cfg.BoundControl }

// SetMode switches capture modes: teardown of the old listener completes
// before the new one is armed.
func (c *InputModeController) SetMode(m Mode) {
	if m == c.mode {
		return
	}
	c.clearPress()

	old := c.mode
	if c.OnTeardown != nil {
		c.OnTeardown(old)
	}
	c.mode = m
	if c.OnArm != nil {
		c.OnArm(m)
	}
	c.logger.Info("capture mode changed", "from", old.String(), "to", m.String())
	if c.OnModeChanged != nil {
		c.OnModeChanged(old, m)
	}
}

// Press records the talk control going down.
func (c *InputModeController) Press() {
	if c.pressed {
		return
	}
	c.pressed = true
	c.pressedAt = c.now()
	c.holding = false

	if c.mode != ModePushToTalk {
		return
	}
	stopTimer(&c.holdTimer)
	c.holdTimer = c.sched.AfterFunc(c.cfg.TapThreshold, func() {
		c.holdTimer = nil
		if !c.pressed || c.holding || c.mode != ModePushToTalk {
			return
		}
		c.holding = true
		if c.OnHoldStart != nil {
			c.OnHoldStart()
		}
	})
}

// Release records the talk control going up. A hold submits immediately; a
// tap toggles push-to-talk mode.
func (c *InputModeController) Release() {
	if !c.pressed {
		return
	}
	c.pressed = false
	stopTimer(&c.holdTimer)

	if c.holding {
		c.holding = false
		if c.OnHoldEnd != nil {
			c.OnHoldEnd()
		}
		return
	}

	if c.now().Sub(c.pressedAt) < c.cfg.TapThreshold {
		c.togglePTT()
	}
	// A long press while the mode was off never opened the mic; nothing to do.
}

// ControlPress routes a bound physical control into the press path.
func (c *InputModeController) ControlPress(control string) {
	if c.cfg.BoundControl == "" || control != c.cfg.BoundControl {
		return
	}
	c.Press()
}

// ControlRelease routes a bound physical control into the release path.
func (c *InputModeController) ControlRelease(control string) {
	if c.cfg.BoundControl == "" || control != c.cfg.BoundControl {
		return
	}
	c.Release()
}

func (c *InputModeController) togglePTT() {
	if c.mode == ModePushToTalk {
		restore := c.prevMode
		c.SetMode(restore)
		if c.OnToggle != nil {
			c.OnToggle(false)
		}
		return
	}
	c.prevMode = c.mode
	c.SetMode(ModePushToTalk)
	if c.OnToggle != nil {
		c.OnToggle(true)
	}
}

func (c *InputModeController) clearPress() {
	c.pressed = false
	c.holding = false
	stopTimer(&c.holdTimer)
}
