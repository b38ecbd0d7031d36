/*
Package volume binds persistent volume claims to volume pools.

A claim binds to exactly one pool and a pool serves at most one claim; the
binding is permanent for the claim's lifetime. Pool selection is best-fit:
the smallest pool whose access mode matches and whose capacity covers the
request wins, with ties broken by declaration order.

Reclaim behavior on claim release follows the pool's policy. Delete purges
the pool and returns it to the allocator. Retain marks the pool Released and
never returns its capacity or erases its data; deleting a Retain pool is an
explicit operator action outside reconciliation.

The binder also produces the OCI mount spec handed to the runtime driver when
an instance with a storage dependency is created.
*/
package volume
