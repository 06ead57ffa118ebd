// Package remediators restores a hung Home Assistant host by power-cycling
// it through the bound relay.
//
// The sequence is fixed:
//
//	power off -> settle delay -> power on -> recovery delay -> record reboot
//
// PowerCycleRemediator looks the relay up on every call, so a device that is
// discovered late is picked up by the next Reset. Until then Reset returns
// ErrDeviceNotReady immediately.
//
// Usage Example:
//
//	binder, _ := relay.NewBinder("shelly1-", log)
//	mon, _ := monitor.New(prober, 3)
//
//	rem, err := remediators.NewPowerCycleRemediator(binder, mon.Statistics(), remediators.Config{
//	    SettleDelay:   5 * time.Second,
//	    RecoveryDelay: 5 * time.Minute,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := rem.Reset(ctx); errors.Is(err, remediators.ErrDeviceNotReady) {
//	    // retried at the next down cycle
//	}
//
// Error handling:
//
// Relay failures are returned as *RemediationIOError naming the operation
// that failed. Neither kind of failure records a reboot.
package remediators
