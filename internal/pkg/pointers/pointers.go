// Package pointers provides trivial value-to-pointer helpers. Generic
// by construction, so there is no domain to adapt: carried over
// unchanged. Ptr is used by store.GormJobStore.ClaimJob.
package pointers

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
func String(v string) *string    { return &v }
