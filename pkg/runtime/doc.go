/*
Package runtime defines the boundary to the container/process runtime that
executes workload instances.

The engine treats the runtime as a black box behind the Driver interface:
create an instance from a resolved spec, terminate one, and answer whether
its process is alive. The Fake driver backs tests and `ballast run
--runtime=fake`; a production driver would wrap a real container runtime the
same way.
*/
package runtime
