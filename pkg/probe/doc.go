/*
Package probe issues the periodic liveness and readiness checks that drive
instance health transitions.

Every instance on the Ready track gets two independent check loops, each with
its own initial delay, period, timeout and consecutive-failure threshold.
Checks are HTTP GETs against the instance's declared path and port, and the
interpretation is uniform: any non-success response or transport error is a
failure. 404 from a misconfigured probe path and connection-refused from a
crashed process are treated identically.

Transitions are edge-triggered and delivered to a Reporter:

  - liveness failures reaching the threshold emit one Fatal event, which the
    rollout controller answers by terminating and replacing the instance
  - readiness failures reaching the threshold emit NotReady, which removes the
    instance from service endpoints without destroying it
  - a readiness success after NotReady (or the first ever) emits Ready

Each individual check runs under a bounded timeout so a wedged instance never
stalls the schedule of the others.
*/
package probe
