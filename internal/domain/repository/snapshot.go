package repository

import "context"

type readSnapshotKey struct{}

// ReadSnapshot marks ctx so that InTx runs fn as one read-only snapshot: every
// read inside sees the same committed state.
func ReadSnapshot(ctx context.Context) context.Context {
	return context.WithValue(ctx, readSnapshotKey{}, true)
}

// IsReadSnapshot reports whether ctx was marked by ReadSnapshot.
func IsReadSnapshot(ctx context.Context) bool {
	v, _ := ctx.Value(readSnapshotKey{}).(bool)
	return v
}
