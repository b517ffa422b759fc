// Package engine runs one incremental synchronization pass: diff the source
// against the fingerprint record, submit what changed, poll the job, merge
// the results into every language file and persist the new record.
//
// When the service fails the run degrades instead of aborting: cached
// translations are written if the service still serves them, and the record
// is marked failed so the next run resubmits everything. The engine never
// logs; progress is reported through an Observer.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bandapella/translatr-gradle-plugin/android"
	"github.com/bandapella/translatr-gradle-plugin/catalog"
	"github.com/bandapella/translatr-gradle-plugin/changes"
	"github.com/bandapella/translatr-gradle-plugin/fingerprint"
	"github.com/bandapella/translatr-gradle-plugin/merge"
	"github.com/bandapella/translatr-gradle-plugin/remote"
)

// Jobs is the translation service. *remote.Client implements it.
type Jobs interface {
	Submit(ctx context.Context, entries []remote.Item, languages []string) (string, error)
	Poll(ctx context.Context, jobID string, onProgress func(remote.Progress)) (*remote.Job, error)
	FetchCached(ctx context.Context) (*remote.Cached, error)
}

// Store persists the fingerprint record. *fingerprint.Store implements it.
type Store interface {
	Load() *fingerprint.Record
	Save(*fingerprint.Record) error
}

// Config locates the source and outputs of one target.
type Config struct {
	// SourcePath is the source strings.xml.
	SourcePath string
	// ResDir holds the <Prefix>-<qualifier> output directories.
	ResDir   string
	Prefix   string
	FileName string
	// Languages restricts written outputs and is sent with the submission.
	// Empty means every language the service returns.
	Languages []string
	// FailOnError makes Run return the classified error after the degraded
	// path has completed.
	FailOnError bool
}

func (c Config) prefix() string {
	if c.Prefix != "" {
		return c.Prefix
	}
	return "values"
}

func (c Config) fileName() string {
	if c.FileName != "" {
		return c.FileName
	}
	return "strings.xml"
}

// Report summarizes a run.
type Report struct {
	Outcome    Outcome
	JobID      string
	Added      int
	Modified   int
	Removed    int
	FullResync bool
	// Written maps language to output path.
	Written map[string]string
	// Record is the persisted record, nil when none was written.
	Record *fingerprint.Record
	// Cause is the error that degraded the run.
	Cause error
	// States lists the states visited, in order.
	States []State
}

// Engine runs synchronization passes. It is not safe for concurrent use;
// callers serialize runs against the same source and outputs.
type Engine struct {
	cfg      Config
	jobs     Jobs
	store    Store
	observer Observer
	now      func() time.Time

	state State
	trace []State
}

// New returns an engine. observer may be nil.
func New(cfg Config, jobs Jobs, store Store, observer Observer) *Engine {
	return &Engine{
		cfg:      cfg,
		jobs:     jobs,
		store:    store,
		observer: observer,
		now:      time.Now,
	}
}

// run holds what one pass has learned so far.
type run struct {
	source *catalog.Collection
	prior  *fingerprint.Record
	set    *changes.Set
	report *Report
	// cachedErr is set once FetchCached has failed in this run; the
	// degraded path then does not ask again.
	cachedErr error
}

// Run performs one pass. It returns an error for configuration and I/O
// failures, for context cancellation, and for service failures in strict
// mode. Service failures otherwise yield OutcomeDegraded and a nil error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.state = StateIdle
	e.trace = []State{StateIdle}
	rep := &Report{Written: map[string]string{}}

	rep, err := e.run(ctx, rep)
	rep.States = append([]State(nil), e.trace...)
	if err != nil {
		rep.Outcome = OutcomeFailed
	}
	e.emit(Event{Kind: EventDone, Outcome: rep.Outcome, Err: err})
	return rep, err
}

func (e *Engine) run(ctx context.Context, rep *Report) (*Report, error) {
	if err := e.transition(StateDiffing); err != nil {
		return rep, err
	}
	src, err := e.loadSource()
	if err != nil {
		return rep, err
	}

	r := &run{source: src, prior: e.store.Load(), report: rep}
	r.set = changes.Detect(src, r.prior)
	rep.Added, rep.Modified, rep.Removed = r.set.Counts()
	rep.FullResync = r.set.FullResync
	e.emit(Event{
		Kind:       EventDiff,
		Added:      rep.Added,
		Modified:   rep.Modified,
		Removed:    rep.Removed,
		FullResync: rep.FullResync,
	})

	if r.set.Empty() && r.prior.Usable() {
		return e.skipNoChange(ctx, r)
	}
	return e.submit(ctx, r)
}

func (e *Engine) loadSource() (*catalog.Collection, error) {
	f, err := android.ParseFile(e.cfg.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	c, err := f.Collection()
	if err != nil {
		return nil, fmt.Errorf("reading source %s: %w", e.cfg.SourcePath, err)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Normal path
// ---------------------------------------------------------------------------

func (e *Engine) submit(ctx context.Context, r *run) (*Report, error) {
	if err := e.transition(StateSubmitting); err != nil {
		return r.report, err
	}

	if len(r.set.Submit) == 0 {
		return e.pruneOnly(ctx, r)
	}

	entries := make([]remote.Item, 0, len(r.set.Submit))
	for _, c := range r.set.Submit {
		entries = append(entries, remote.Item{Key: c.Key, Entry: remote.Hashed(c.Text, c.Hash)})
	}

	jobID, err := e.jobs.Submit(ctx, entries, e.cfg.Languages)
	if err != nil {
		return e.degrade(ctx, r, fmt.Errorf("submitting job: %w", err))
	}
	r.report.JobID = jobID
	e.emit(Event{Kind: EventSubmitted, JobID: jobID, Entries: len(entries)})

	if err := e.transition(StatePolling); err != nil {
		return r.report, err
	}
	job, err := e.jobs.Poll(ctx, jobID, func(p remote.Progress) {
		e.emit(Event{Kind: EventProgress, JobID: jobID, Progress: p})
	})
	if err != nil {
		return e.degrade(ctx, r, fmt.Errorf("polling job %s: %w", jobID, err))
	}

	if err := e.transition(StateReconciling); err != nil {
		return r.report, err
	}

	// Cached content fills in languages and keys the job did not return.
	// Failing to read it here does not fail the run.
	result := job.Translations
	if cached, err := e.jobs.FetchCached(ctx); err == nil {
		result = cached.Translations.Merge(job.Translations)
	} else if isCanceled(ctx, err) {
		return r.report, err
	}

	return e.finish(r, result)
}

// pruneOnly handles a run whose only changes are removed keys: outputs are
// rewritten without the removed keys and no job is submitted.
func (e *Engine) pruneOnly(ctx context.Context, r *run) (*Report, error) {
	if err := e.transition(StateReconciling); err != nil {
		return r.report, err
	}
	result := catalog.Result{}
	if cached, err := e.jobs.FetchCached(ctx); err == nil {
		result = cached.Translations
	} else if isCanceled(ctx, err) {
		return r.report, err
	}
	return e.finish(r, result)
}

// finish writes result to every language and saves a clean record.
func (e *Engine) finish(r *run, result catalog.Result) (*Report, error) {
	if err := e.reconcile(r, result, nil); err != nil {
		return e.persistFailure(r, err)
	}

	if err := e.transition(StatePersisting); err != nil {
		return r.report, err
	}
	rec := &fingerprint.Record{
		SourceHash:   fingerprint.SourceHash(r.source),
		Timestamp:    e.now().UnixMilli(),
		Languages:    fingerprint.SortedLanguages(append(e.filter(result.Languages()), writtenLanguages(r.report)...)),
		StringHashes: r.set.Hashes,
	}
	if err := e.save(r, rec); err != nil {
		return r.report, err
	}

	r.report.Outcome = OutcomeSynced
	return r.report, e.transition(StateDone)
}

// skipNoChange handles a run with nothing to submit. Languages the service
// holds but that have no output file yet are still materialized.
func (e *Engine) skipNoChange(ctx context.Context, r *run) (*Report, error) {
	if err := e.transition(StateSkipNoChange); err != nil {
		return r.report, err
	}
	e.emit(Event{Kind: EventNoChange})

	cached, err := e.jobs.FetchCached(ctx)
	if err != nil {
		r.cachedErr = err
		return e.degrade(ctx, r, fmt.Errorf("fetching cached translations: %w", err))
	}

	missing := e.missingLanguages(cached.Translations.Languages())
	if len(missing) == 0 {
		r.report.Outcome = OutcomeUnchanged
		return r.report, e.transition(StateDone)
	}

	if err := e.transition(StateReconciling); err != nil {
		return r.report, err
	}
	if err := e.reconcile(r, cached.Translations, missing); err != nil {
		return e.persistFailure(r, err)
	}

	if err := e.transition(StatePersisting); err != nil {
		return r.report, err
	}
	rec := *r.prior
	rec.Timestamp = e.now().UnixMilli()
	rec.Languages = fingerprint.SortedLanguages(append(append([]string(nil), r.prior.Languages...), writtenLanguages(r.report)...))
	rec.Failed = false
	if err := e.save(r, &rec); err != nil {
		return r.report, err
	}

	r.report.Outcome = OutcomeSynced
	return r.report, e.transition(StateDone)
}

// ---------------------------------------------------------------------------
// Degraded path
// ---------------------------------------------------------------------------

// degrade falls back to the service's cached translations and marks the
// record failed.
func (e *Engine) degrade(ctx context.Context, r *run, cause error) (*Report, error) {
	if isCanceled(ctx, cause) {
		return r.report, cause
	}
	if err := e.transition(StateDegraded); err != nil {
		return r.report, err
	}
	r.report.Cause = cause
	e.emit(Event{Kind: EventDegraded, Err: cause})

	var cached *remote.Cached
	err := r.cachedErr
	if err == nil {
		cached, err = e.jobs.FetchCached(ctx)
	}
	switch {
	case err == nil && !cached.Translations.Empty():
		if err := e.transition(StateReconciling); err != nil {
			return r.report, err
		}
		if err := e.reconcile(r, cached.Translations, nil); err != nil {
			return e.persistFailure(r, err)
		}
	case isCanceled(ctx, err):
		return r.report, err
	}

	if err := e.transition(StatePersisting); err != nil {
		return r.report, err
	}
	if err := e.save(r, e.failedRecord(r)); err != nil {
		return r.report, err
	}
	if err := e.transition(StateDone); err != nil {
		return r.report, err
	}

	r.report.Outcome = OutcomeDegraded
	if e.cfg.FailOnError {
		return r.report, cause
	}
	return r.report, nil
}

// persistFailure records a failed run after a write error, so partially
// written outputs are redone next time, and returns err.
func (e *Engine) persistFailure(r *run, err error) (*Report, error) {
	if e.state == StateReconciling {
		if terr := e.transition(StatePersisting); terr == nil {
			_ = e.save(r, e.failedRecord(r))
			_ = e.transition(StateDone)
		}
	}
	return r.report, err
}

// failedRecord keeps the prior hashes, which stay meaningful once a run
// succeeds again, and sets the failed flag.
func (e *Engine) failedRecord(r *run) *fingerprint.Record {
	rec := &fingerprint.Record{
		Timestamp:    e.now().UnixMilli(),
		Failed:       true,
		StringHashes: map[string]string{},
	}
	var langs []string
	if r.prior != nil {
		rec.SourceHash = r.prior.SourceHash
		for k, v := range r.prior.StringHashes {
			rec.StringHashes[k] = v
		}
		langs = append(langs, r.prior.Languages...)
	} else {
		rec.SourceHash = fingerprint.SourceHash(r.source)
	}
	rec.Languages = fingerprint.SortedLanguages(append(langs, writtenLanguages(r.report)...))
	return rec
}

func (e *Engine) save(r *run, rec *fingerprint.Record) error {
	if err := e.store.Save(rec); err != nil {
		return fmt.Errorf("saving fingerprint record: %w", err)
	}
	r.report.Record = rec
	e.emit(Event{Kind: EventRecordSaved, Record: rec})
	return nil
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// reconcile rewrites the output of every language in result and every
// language already on disk. only, when non-nil, restricts the languages.
func (e *Engine) reconcile(r *run, result catalog.Result, only []string) error {
	langs := only
	if langs == nil {
		langs = fingerprint.SortedLanguages(append(result.Languages(), e.existingLanguages()...))
	}
	langs = e.filter(langs)

	current := r.source.Keys()
	for _, lang := range langs {
		path, err := android.OutputPath(e.cfg.ResDir, e.cfg.prefix(), lang, e.cfg.fileName())
		if err != nil {
			e.emit(Event{Kind: EventLanguageSkipped, Language: lang, Err: err})
			continue
		}

		prior := map[string]string{}
		if f, err := android.ParseFile(path); err == nil {
			prior = f.Values()
		}

		out := merge.Reconcile(merge.Input{
			Prior:      prior,
			PriorOrder: android.ReadKeyOrder(path),
			Fresh:      result.ForLanguage(lang),
			Current:    current,
			Removed:    r.set.Removed,
		})
		if out.Len() == 0 && len(prior) == 0 {
			continue
		}

		written, err := android.Write(e.cfg.ResDir, e.cfg.prefix(), lang, e.cfg.fileName(), out.Values, out.Order)
		if err != nil {
			return fmt.Errorf("writing %s: %w", lang, err)
		}
		r.report.Written[lang] = written
		e.emit(Event{Kind: EventLanguageWritten, Language: lang, Path: written, Entries: out.Len()})
	}
	return nil
}

func (e *Engine) existingLanguages() []string {
	return android.DetectLanguages(e.cfg.ResDir, e.cfg.prefix(), e.cfg.fileName())
}

// missingLanguages returns the languages of langs without an output file.
// Languages are compared by resource qualifier, so "pt-br" and "pt-BR"
// name the same output.
func (e *Engine) missingLanguages(langs []string) []string {
	have := make(map[string]bool)
	for _, l := range e.existingLanguages() {
		have[qualifierKey(l)] = true
	}
	var missing []string
	for _, l := range e.filter(langs) {
		if !have[qualifierKey(l)] {
			missing = append(missing, l)
		}
	}
	return missing
}

func qualifierKey(lang string) string {
	if q, err := android.LocaleQualifier(lang); err == nil {
		return q
	}
	return lang
}

// filter applies the configured language restriction.
func (e *Engine) filter(langs []string) []string {
	if len(e.cfg.Languages) == 0 {
		return langs
	}
	allowed := make(map[string]bool, len(e.cfg.Languages))
	for _, l := range e.cfg.Languages {
		allowed[l] = true
	}
	var out []string
	for _, l := range langs {
		if allowed[l] {
			out = append(out, l)
		}
	}
	return out
}

func writtenLanguages(rep *Report) []string {
	langs := make([]string, 0, len(rep.Written))
	for l := range rep.Written {
		langs = append(langs, l)
	}
	return langs
}

// isCanceled reports whether err stems from the run's own context. Request
// timeouts inside the client also satisfy context.DeadlineExceeded and must
// degrade instead.
func isCanceled(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}
