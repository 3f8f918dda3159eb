package sync

import (
	"fmt"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
)

// KindReport counts what a pass did for one entity kind.
type KindReport struct {
	Kind       schema.Kind `json:"kind" yaml:"kind"`
	Uploaded   int         `json:"uploaded" yaml:"uploaded"`
	Downloaded int         `json:"downloaded" yaml:"downloaded"`
	Conflicts  int         `json:"conflicts" yaml:"conflicts"`
	Failed     int         `json:"failed" yaml:"failed"`
	Deferred   int         `json:"deferred" yaml:"deferred"`
	Skipped    int         `json:"skipped" yaml:"skipped"`
	Orphaned   int64       `json:"orphaned" yaml:"orphaned"`
}

func (k *KindReport) add(o KindReport) {
	k.Uploaded += o.Uploaded
	k.Downloaded += o.Downloaded
	k.Conflicts += o.Conflicts
	k.Failed += o.Failed
	k.Deferred += o.Deferred
	k.Skipped += o.Skipped
	k.Orphaned += o.Orphaned
}

// EntityError records a per-entity failure.
type EntityError struct {
	Kind     schema.Kind `json:"kind" yaml:"kind"`
	LocalID  string      `json:"local_id,omitempty" yaml:"local_id,omitempty"`
	RemoteID string      `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Err      error       `json:"-" yaml:"-"`
	Message  string      `json:"error" yaml:"error"`
}

func newEntityError(kind schema.Kind, localID, remoteID string, err error) EntityError {
	return EntityError{Kind: kind, LocalID: localID, RemoteID: remoteID, Err: err, Message: err.Error()}
}

func (e EntityError) Error() string {
	id := e.LocalID
	if id == "" {
		id = e.RemoteID
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, id, e.Message)
}

func (e EntityError) Unwrap() error {
	return e.Err
}

// Report is the outcome of one sync pass.
type Report struct {
	AccountID  string        `json:"account_id" yaml:"account_id"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Kinds      []KindReport  `json:"kinds" yaml:"kinds"`
	Failures   []EntityError `json:"failures,omitempty" yaml:"failures,omitempty"`
	Malformed  []EntityError `json:"malformed,omitempty" yaml:"malformed,omitempty"`
	Purged     int64         `json:"purged" yaml:"purged"`
	Stats      stats.Summary `json:"stats" yaml:"stats"`
	// Err is the error that ended the pass early, if any.
	Err error `json:"-" yaml:"-"`
}

func newReport(accountID string, started time.Time) *Report {
	r := &Report{AccountID: accountID, StartedAt: started}
	for _, kind := range schema.SyncOrder {
		r.Kinds = append(r.Kinds, KindReport{Kind: kind})
	}
	return r
}

// Kind returns the counters of kind.
func (r *Report) Kind(kind schema.Kind) KindReport {
	for _, k := range r.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	return KindReport{Kind: kind}
}

func (r *Report) merge(o KindReport) {
	for i := range r.Kinds {
		if r.Kinds[i].Kind == o.Kind {
			r.Kinds[i].add(o)
			return
		}
	}
	r.Kinds = append(r.Kinds, o)
}

// Totals sums the counters of every kind.
func (r *Report) Totals() KindReport {
	var t KindReport
	for _, k := range r.Kinds {
		t.add(k)
	}
	return t
}

// Succeeded reports whether the pass ran to completion.
func (r *Report) Succeeded() bool {
	return r.Err == nil
}

// Duration returns how long the pass took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Quiet reports whether the pass moved nothing in either direction.
func (r *Report) Quiet() bool {
	t := r.Totals()
	return t.Uploaded == 0 && t.Downloaded == 0 && t.Conflicts == 0
}
