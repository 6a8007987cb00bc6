package backends

import (
	"context"
	"fmt"
)

// Request describes one instant upload attempt
type Request struct {
	Path      string // local file
	Name      string // display name on the remote side
	Size      int64
	SHA1      string // previously learned hash; empty lets the backend compute it
	TargetPID int64  // destination directory id
}

// ResultKind tags the variants of Result
type ResultKind int

const (
	// ResultCompleted means the remote side now holds the file
	ResultCompleted ResultKind = iota
	// ResultHashOnly means the upload did not complete but a hash was learned
	ResultHashOnly
	// ResultFailed means the attempt errored
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultCompleted:
		return "completed"
	case ResultHashOnly:
		return "hash_only"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of an instant upload. SHA1 is set for HashOnly and,
// when known, for Completed; Err is set only for Failed.
type Result struct {
	Kind ResultKind
	SHA1 string
	Err  error
}

// Completed builds a completed result
func Completed(sha1 string) Result {
	return Result{Kind: ResultCompleted, SHA1: sha1}
}

// HashOnly builds a not-completed result carrying the computed hash
func HashOnly(sha1 string) Result {
	return Result{Kind: ResultHashOnly, SHA1: sha1}
}

// Failed builds a failed result
func Failed(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}

// InstantUploader asks a remote store to materialize a file from its hash
type InstantUploader interface {
	// InstantUpload never returns a Go error; failures come back as Failed
	InstantUpload(ctx context.Context, req Request) Result

	// Name identifies the backend in logs and history
	Name() string
}
