/*
Package events provides an in-memory event broker for the engine's pub/sub
messaging plus a bounded replay ring for the operational surface.

Publishing is non-blocking: slow subscribers miss events rather than stall
the control loop. The replay ring keeps the most recent events in occurrence
order so an external CLI or dashboard can render lifecycle history without
holding a subscription.
*/
package events
