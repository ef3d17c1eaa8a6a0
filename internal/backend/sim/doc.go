// Package sim is a host-side output backend. It keeps a register file of
// converter holding registers, programmed timers and claimed transfer streams,
// and paces cycle-complete notifications from the timer clock.
package sim
