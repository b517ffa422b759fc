package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/bandapella/translatr-gradle-plugin/engine"
	"github.com/bandapella/translatr-gradle-plugin/i18n"
	"github.com/bandapella/translatr-gradle-plugin/remote"
)

// eventSink turns engine events into log lines and, on a terminal, a
// progress bar while the job is polled.
type eventSink struct {
	log zerolog.Logger
	out io.Writer
	// showBar enables the progress bar; otherwise progress is logged.
	showBar bool
	bar     *progressbar.ProgressBar
}

func (s *eventSink) handle(ev engine.Event) {
	switch ev.Kind {
	case engine.EventDiff:
		s.log.Info().
			Int("added", ev.Added).
			Int("modified", ev.Modified).
			Int("removed", ev.Removed).
			Bool("full_resync", ev.FullResync).
			Msg("source scanned")
		if ev.FullResync {
			s.log.Info().Msg(i18n.T("No usable fingerprint record; every string will be submitted"))
		}

	case engine.EventNoChange:
		s.log.Info().Msg(i18n.T("No changes since the last run"))

	case engine.EventSubmitted:
		s.log.Info().Str("job", ev.JobID).Int("strings", ev.Entries).Msg("translation job submitted")

	case engine.EventProgress:
		s.progress(ev.Progress)

	case engine.EventLanguageWritten:
		s.finishBar()
		s.log.Info().
			Str("language", ev.Language).
			Str("name", languageName(ev.Language)).
			Int("entries", ev.Entries).
			Str("path", ev.Path).
			Msg("language written")

	case engine.EventLanguageSkipped:
		s.log.Warn().Str("language", ev.Language).Err(ev.Err).Msg("language skipped")

	case engine.EventDegraded:
		s.finishBar()
		s.log.Warn().Str("kind", remote.KindOf(ev.Err).String()).Msg(userMessage(ev.Err))
		s.log.Debug().Str("diagnostic", remote.DiagnosticOf(ev.Err)).Msg("service failure detail")

	case engine.EventRecordSaved:
		s.log.Debug().Str("record", ev.Record.Summary()).Msg("fingerprint record saved")

	case engine.EventDone:
		s.finishBar()
		s.log.Debug().Str("outcome", ev.Outcome.String()).Msg("run finished")
	}
}

func (s *eventSink) progress(p remote.Progress) {
	if !s.showBar || p.Total == 0 {
		s.log.Info().
			Int("processed", p.Processed).
			Int("total", p.Total).
			Float64("percent", p.Percent).
			Msg("translating")
		return
	}
	if s.bar == nil {
		s.bar = progressbar.NewOptions(p.Total,
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("[cyan]"+i18n.T("Translating")+"[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
	}
	s.bar.ChangeMax(p.Total)
	_ = s.bar.Set(p.Processed)
}

func (s *eventSink) finishBar() {
	if s.bar == nil {
		return
	}
	_ = s.bar.Finish()
	s.bar = nil
}

// summary is the closing line of a sync run.
func summary(rep *engine.Report) string {
	n := len(rep.Written)
	switch rep.Outcome {
	case engine.OutcomeSynced:
		return fmt.Sprintf(i18n.N("Translations synced: %d language file written", "Translations synced: %d language files written", n), n)
	case engine.OutcomeUnchanged:
		return i18n.T("Translations are up to date")
	case engine.OutcomeDegraded:
		if n > 0 {
			return i18n.T("Translation service unavailable: cached translations were written. All strings will be resubmitted on the next run.")
		}
		return i18n.T("Translation service unavailable: no translations were written. All strings will be resubmitted on the next run.")
	}
	return i18n.T("Translation failed.")
}

// userMessage is the localized short message of err. Classified service
// errors never expose their diagnostic here.
func userMessage(err error) string {
	if err == nil {
		return ""
	}
	if kind := remote.KindOf(err); kind != remote.KindUnknown {
		return i18n.T(kind.Message())
	}
	return err.Error()
}

// languageName returns the native name of lang, or "" when unknown.
func languageName(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	return display.Self.Name(tag)
}
