// Package device holds the static Device Registry.
//
// The registry maps each configured device to the three topics it owns:
//
//	{namespace}/{device}/data      telemetry, device -> controller
//	{namespace}/{device}/command   commands, controller -> device
//	{namespace}/{device}/ack       acknowledgments, device -> controller (optional)
//
// The set of devices is fixed at startup. There is no discovery and no
// persistence; the router and dispatcher only ever act on IDs found here.
package device
