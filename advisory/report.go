package advisory

import (
	"context"
	"errors"
	"time"

	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Reporter persists user-logged side effects and queues their background
// analysis. The report is durable before any analysis runs; a crash loses
// at most the derived warning, never the report.
type Reporter struct {
	store    *store.Badger
	analyzer *Analyzer
	queue    *Queue
	log      logrus.FieldLogger
}

// NewReporter wires the store, analyzer, and background queue
func NewReporter(db *store.Badger, analyzer *Analyzer, queue *Queue, log logrus.FieldLogger) *Reporter {
	return &Reporter{
		store:    db,
		analyzer: analyzer,
		queue:    queue,
		log:      log,
	}
}

// Submit stores a side effect report at MEDIUM severity and enqueues its
// analysis against the patient profile and active prescriptions. The
// analysis yields a Warning and corrects the report's severity. Returns
// the stored report's ID.
func (r *Reporter) Submit(description string, presID *uuid.UUID) (uuid.UUID, error) {
	report := &store.SideEffectReport{
		ID:             uuid.New(),
		IDPrescription: presID,
		Description:    description,
		Severity:       store.SeverityMedium,
		OccurredAt:     time.Now(),
	}

	if err := r.store.AddSideEffect(report); err != nil {
		return uuid.Nil, err
	}

	req, err := r.buildRequest(report)
	if err != nil {
		return uuid.Nil, err
	}

	r.queue.Enqueue(Job{
		Name: "analyze:" + report.ID.String(),
		Run: func(ctx context.Context) error {
			return r.analyze(ctx, req)
		},
	})

	return report.ID, nil
}

// buildRequest snapshots the patient profile and current prescriptions at
// submit time so a later profile edit does not change what gets analyzed
func (r *Reporter) buildRequest(report *store.SideEffectReport) (*AnalysisRequest, error) {
	req := &AnalysisRequest{
		ReportID:    report.ID,
		Description: report.Description,
	}

	patient, err := r.store.GetPatient()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if patient != nil {
		req.Medications = patient.Medications
		req.ChronicDiseases = patient.ChronicDiseases
		req.Allergies = patient.Allergies
		req.Gender = patient.Gender
	}

	prescriptions, err := r.store.ListPrescriptions()
	if err != nil {
		return nil, err
	}

	for _, p := range prescriptions {
		req.CurrentMedications = append(req.CurrentMedications, p.Medicine)
	}

	return req, nil
}

func (r *Reporter) analyze(ctx context.Context, req *AnalysisRequest) error {
	result := r.analyzer.Analyze(ctx, req)

	warning := &store.Warning{
		ID:                uuid.New(),
		Title:             req.Description,
		DrugPossibleCause: result.DrugPossibleCause,
		WarningType:       string(result.Category),
		Severity:          result.Severity,
		Confidence:        result.Confidence,
		Reasoning:         result.Reasoning,
		Recommendations:   result.Recommendations,
		CreatedAt:         time.Now(),
	}

	if warning.DrugPossibleCause == "" {
		warning.DrugPossibleCause = "Unknown"
	}

	if err := r.store.AddWarning(warning); err != nil {
		return err
	}

	err := r.store.SetSideEffectSeverity(req.ReportID, result.Severity)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"report":   req.ReportID,
		"warning":  warning.ID,
		"severity": result.Severity,
	}).Info("side effect analyzed")

	return nil
}
