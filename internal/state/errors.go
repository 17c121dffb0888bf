package state

import "errors"

// ErrUnknownSnapshot is returned by RestoreGlobalSnapshot when the given id
// was never handed out by TakeGlobalSnapshot, or has already been discarded
// by an earlier restore.
var ErrUnknownSnapshot = errors.New("state: unknown global snapshot id")

// ErrNoAccountSnapshot is returned by RestoreSnapshot/CopySnapshot when the
// source address has no saved per-account snapshot.
var ErrNoAccountSnapshot = errors.New("state: no snapshot taken for address")
