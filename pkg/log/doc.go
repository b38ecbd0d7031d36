/*
Package log provides structured logging for Ballast built on zerolog.

A single global logger is initialized once at process start via Init and
consumed everywhere else through the package-level helpers or the With*
child-logger constructors, which attach the standard correlation fields
(component, workload, instance_id) used across the engine's log output.
*/
package log
