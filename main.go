package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"git.0xdad.com/tblyler/dosetime/advisory"
	"git.0xdad.com/tblyler/dosetime/alert"
	"git.0xdad.com/tblyler/dosetime/config"
	"git.0xdad.com/tblyler/dosetime/dose"
	"git.0xdad.com/tblyler/dosetime/extract"
	"git.0xdad.com/tblyler/dosetime/llm"
	"git.0xdad.com/tblyler/dosetime/notify"
	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const lastIngestSetting = "last_ingest_raw"

func errLog(messages ...interface{}) {
	fmt.Fprintln(os.Stderr, messages...)
}

func log(messages ...interface{}) {
	fmt.Println(messages...)
}

func help() {
	errLog("usage: dosetime <command>")
	errLog("  run                                   start the reminder daemon")
	errLog("  patient set|show                      manage the patient profile")
	errLog("  prescription ingest|list|delete       parse, review, and remove prescriptions")
	errLog("  dose start|take|undo|snooze|pin|unpin|list")
	errLog("  sideeffect log|list                   report and review side effects")
	errLog("  warning list|import|resolve           manage warnings")
	errLog("  wipe                                  delete all prescriptions and doses")
}

// newGate builds the serialized inference gate. The factory downloads the
// model file first when one is configured, then points at the inference
// endpoint. Without an endpoint the factory errors, which every caller
// treats as "no engine": normalization passes text through and analysis
// falls back to keyword heuristics.
func newGate(cfg *config.Env, logger logrus.FieldLogger) *llm.Gate {
	return llm.NewGate(func() (llm.TextEngine, error) {
		url := cfg.InferenceURL()
		if url == "" {
			return nil, errors.New("INFERENCE_URL is not set")
		}

		if cfg.ModelURL() != "" && cfg.ModelPath() != "" {
			models := llm.NewModelStore(cfg.ModelURL(), cfg.ModelPath(), cfg.ModelAuthToken(), logger)

			_, err := models.ModelFile(context.Background(), func(progress float64) {
				logger.WithField("progress", fmt.Sprintf("%.0f%%", progress*100)).Info("downloading model")
			})
			if err != nil {
				return nil, fmt.Errorf("failed to fetch model file: %w", err)
			}
		}

		return llm.NewHTTPEngine(url), nil
	})
}

func newNotifier(cfg *config.Env, logger logrus.FieldLogger) notify.Notifier {
	apiToken, err := cfg.PushoverAPIToken()
	if err != nil {
		logger.Info("no pushover credentials, notifications go to the log")
		return &notify.Log{Logger: logger}
	}

	deviceToken, err := cfg.PushoverDeviceToken()
	if err != nil {
		logger.Info("no pushover device token, notifications go to the log")
		return &notify.Log{Logger: logger}
	}

	return notify.NewPushover(apiToken, deviceToken, logger)
}

// run starts the reminder daemon: restore timers from storage, keep
// courses topped up on a schedule, and block until interrupted
func run(b *store.Badger, cfg *config.Env, logger logrus.FieldLogger) error {
	timers := alert.NewMemoryTimers()
	alerts := alert.NewScheduler(timers, logger)
	notifier := newNotifier(cfg, logger)
	gate := newGate(cfg, logger)

	defer gate.Close()

	queue := advisory.NewQueue(2, logger)

	defer queue.Close()

	recommender := advisory.NewRecommender(gate, logger)

	coord := dose.NewCoordinator(b, alerts, notifier, queue, recommender, logger)
	coord.SetHorizon(time.Duration(cfg.HorizonDays()) * 24 * time.Hour)

	timers.SetHandler(func(key alert.Key, payload alert.Payload) {
		err := coord.HandleEvent(dose.AlarmFired{Key: key, Payload: payload})
		if err != nil {
			logger.WithError(err).WithField("key", key.String()).Error("failed to handle alarm")
		}
	})

	if err := coord.HandleEvent(dose.BootCompleted{}); err != nil {
		return fmt.Errorf("failed to restore alerts: %w", err)
	}

	maintenance := cron.New()

	_, err := maintenance.AddFunc("0 3 * * *", func() {
		if err := coord.TopUp(); err != nil {
			logger.WithError(err).Error("course top-up failed")
		}
	})
	if err != nil {
		return err
	}

	_, err = maintenance.AddFunc("*/15 * * * *", func() {
		if err := coord.SweepMissed(); err != nil {
			logger.WithError(err).Error("missed-dose sweep failed")
		}
	})
	if err != nil {
		return err
	}

	maintenance.Start()

	defer maintenance.Stop()

	logger.Info("daemon started")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	logger.Info("shutting down")

	return nil
}

func promptLine(inputScanner *bufio.Scanner, label string) string {
	fmt.Print(label + ": ")
	inputScanner.Scan()

	return string(bytes.TrimSpace(inputScanner.Bytes()))
}

func promptList(inputScanner *bufio.Scanner, label string) []string {
	raw := promptLine(inputScanner, label+" (comma separated)")
	if raw == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}

func promptUUID(inputScanner *bufio.Scanner, label string) (uuid.UUID, error) {
	raw := promptLine(inputScanner, label)

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", label, raw, err)
	}

	return id, nil
}

// newCoordinator for one-shot commands: in-process timers only matter to
// the daemon, persisted state is what the command changes
func newCoordinator(b *store.Badger, logger logrus.FieldLogger) *dose.Coordinator {
	alerts := alert.NewScheduler(alert.NewMemoryTimers(), logger)

	return dose.NewCoordinator(b, alerts, &notify.Log{Logger: logger}, nil, nil, logger)
}

func ingestPrescriptions(b *store.Badger, cfg *config.Env, logger logrus.FieldLogger) error {
	raw, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read prescription text from STDIN: %w", err)
	}

	text := string(raw)

	if path := cfg.DrugListPath(); path != "" {
		vocab, err := extract.LoadDrugList(path)
		if err != nil {
			return fmt.Errorf("failed to load drug list: %w", err)
		}

		gate := newGate(cfg, logger)

		defer gate.Close()

		normalizer := extract.NewNormalizer(gate, vocab, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		text = normalizer.Normalize(ctx, text)
	}

	prescriptions := extract.ParsePrescriptions(text)
	if len(prescriptions) == 0 {
		return errors.New("no prescription lines recognized")
	}

	if err := b.AddPrescriptions(prescriptions); err != nil {
		return err
	}

	if err := b.SetSetting(lastIngestSetting, string(raw)); err != nil {
		return err
	}

	for _, p := range prescriptions {
		log(p.ID, p.Medicine, p.StrengthUnit)
	}

	return nil
}

func main() {
	lenArgs := len(os.Args)
	if lenArgs <= 1 {
		help()
		errLog("must supply at least one argument")
		os.Exit(1)
	}

	err := func() error {
		inputScanner := bufio.NewScanner(os.Stdin)

		logger := logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stderr)

		cfg := &config.Env{}

		badgerPath, err := cfg.BadgerPath()
		if err != nil {
			return err
		}

		b, err := store.NewBadger(badgerPath)
		if err != nil {
			return err
		}

		defer b.Close()

		switch os.Args[1] {
		case "run":
			return run(b, cfg, logger)

		case "patient":
			if lenArgs < 3 {
				return errors.New("must supply an argument to the patient command")
			}

			switch os.Args[2] {
			case "set":
				name := promptLine(inputScanner, "name")
				if name == "" {
					return fmt.Errorf("failed to get name from STDIN prompt: %w", inputScanner.Err())
				}

				patient := &store.Patient{
					Name:            name,
					Gender:          promptLine(inputScanner, "gender"),
					ChronicDiseases: promptList(inputScanner, "chronic diseases"),
					Allergies:       promptList(inputScanner, "allergies"),
					Medications:     promptList(inputScanner, "other medications"),
					UpdatedAt:       time.Now(),
				}

				return b.SavePatient(patient)

			case "show":
				patient, err := b.GetPatient()
				if errors.Is(err, store.ErrNotFound) {
					return errors.New("no patient profile saved")
				}
				if err != nil {
					return err
				}

				log(patient.Name, patient.Gender)
				log("chronic diseases:", strings.Join(patient.ChronicDiseases, ", "))
				log("allergies:", strings.Join(patient.Allergies, ", "))
				log("other medications:", strings.Join(patient.Medications, ", "))
			}

		case "prescription":
			if lenArgs < 3 {
				return errors.New("must supply an argument to the prescription command")
			}

			switch os.Args[2] {
			case "ingest":
				return ingestPrescriptions(b, cfg, logger)

			case "list":
				prescriptions, err := b.ListPrescriptions()
				if err != nil {
					return err
				}

				for _, p := range prescriptions {
					log(p.ID, p.Medicine, p.StrengthUnit, "every", p.FrequencyHours, "hours")

					for _, rec := range advisory.DecodeRecommendations(p.Recommendations) {
						log("  -", rec)
					}
				}

			case "delete":
				presID, err := promptUUID(inputScanner, "prescription id")
				if err != nil {
					return err
				}

				return newCoordinator(b, logger).DeletePrescription(presID)
			}

		case "dose":
			if lenArgs < 3 {
				return errors.New("must supply an argument to the dose command")
			}

			coord := newCoordinator(b, logger)

			switch os.Args[2] {
			case "start":
				presID, err := promptUUID(inputScanner, "prescription id")
				if err != nil {
					return err
				}

				first := time.Now()

				if raw := promptLine(inputScanner, "first dose time (RFC3339, blank for now)"); raw != "" {
					first, err = time.Parse(time.RFC3339, raw)
					if err != nil {
						return fmt.Errorf("invalid first dose time: %w", err)
					}
				}

				if promptLine(inputScanner, "today only? (y/N)") == "y" {
					return coord.ActivateDay(presID, first)
				}

				return coord.ActivateCourse(presID, first)

			case "take":
				eventID, err := promptUUID(inputScanner, "dose event id")
				if err != nil {
					return err
				}

				return coord.MarkTaken(eventID)

			case "undo":
				eventID, err := promptUUID(inputScanner, "dose event id")
				if err != nil {
					return err
				}

				return coord.UndoTaken(eventID)

			case "snooze":
				eventID, err := promptUUID(inputScanner, "dose event id")
				if err != nil {
					return err
				}

				minutes, _ := strconv.Atoi(promptLine(inputScanner, "minutes"))

				return coord.Snooze(eventID, minutes)

			case "pin", "unpin":
				name := promptLine(inputScanner, "medicine name")
				if name == "" {
					return fmt.Errorf("failed to get medicine name from STDIN prompt: %w", inputScanner.Err())
				}

				return coord.SetPinnedForMedicine(name, os.Args[2] == "pin")

			case "list":
				views, err := coord.Overview()
				if err != nil {
					return err
				}

				for _, v := range views {
					pinned := ""
					if v.Pinned {
						pinned = "pinned"
					}

					log(v.Event.ID, v.Event.TimeKey(), v.Medicine, v.Event.DosageNote, v.Effective, pinned)
				}
			}

		case "sideeffect":
			if lenArgs < 3 {
				return errors.New("must supply an argument to the sideeffect command")
			}

			switch os.Args[2] {
			case "log":
				description := promptLine(inputScanner, "description")
				if description == "" {
					return fmt.Errorf("failed to get description from STDIN prompt: %w", inputScanner.Err())
				}

				gate := newGate(cfg, logger)

				defer gate.Close()

				queue := advisory.NewQueue(1, logger)
				reporter := advisory.NewReporter(b, advisory.NewAnalyzer(gate, logger), queue, logger)

				id, err := reporter.Submit(description, nil)
				if err != nil {
					return err
				}

				// drain the analysis before the process exits
				queue.Close()

				log("logged side effect", id)

			case "list":
				reports, err := b.ListSideEffects()
				if err != nil {
					return err
				}

				for _, report := range reports {
					log(report.ID, report.OccurredAt.Format(time.RFC3339), report.Severity, report.Description)
				}
			}

		case "warning":
			if lenArgs < 3 {
				return errors.New("must supply an argument to the warning command")
			}

			switch os.Args[2] {
			case "list":
				warnings, err := b.ListWarnings()
				if err != nil {
					return err
				}

				for _, w := range warnings {
					resolved := ""
					if w.Resolved {
						resolved = "resolved"
					}

					log(w.ID, w.Severity, w.WarningType, w.DrugPossibleCause, w.Title, resolved)
				}

			case "import":
				raw, err := ioutil.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read warnings from STDIN: %w", err)
				}

				var warnings []*store.Warning
				if err := json.Unmarshal(raw, &warnings); err != nil {
					return fmt.Errorf("failed to parse warnings JSON: %w", err)
				}

				for _, w := range warnings {
					w.ID = uuid.New()
					w.CreatedAt = time.Now()

					if w.Severity == "" {
						w.Severity = store.SeverityMedium
					}

					if err := b.AddWarning(w); err != nil {
						return err
					}
				}

				log("imported", len(warnings), "warnings")

			case "resolve":
				id, err := promptUUID(inputScanner, "warning id")
				if err != nil {
					return err
				}

				return b.SetWarningResolved(id, true)
			}

		case "wipe":
			if promptLine(inputScanner, "type 'yes' to delete all prescriptions and doses") != "yes" {
				return errors.New("aborted")
			}

			return newCoordinator(b, logger).WipeAll()

		default:
			help()

			return fmt.Errorf("unknown command %q", os.Args[1])
		}

		return nil
	}()

	if err != nil {
		errLog(err.Error())
		os.Exit(1)
	}
}
