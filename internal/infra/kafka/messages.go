package kafka

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"coderun/internal/domain/execution"
	"coderun/internal/infra/wire"
)

const (
	messageTypeSubmission = "submission"
	messageTypeDone       = "done"
)

type submissionEnvelope struct {
	Type string `json:"type,omitempty"`
	wire.Submission
}

type resultEnvelope struct {
	ID string `json:"id"`
	wire.Outcome
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

func decodeSubmissionMessage(msg kafkago.Message) (execution.Submission, error) {
	var envelope submissionEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return execution.Submission{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = messageTypeSubmission
	}

	switch msgType {
	case messageTypeSubmission:
		return envelope.toSubmission(msg)
	case messageTypeDone:
		return execution.Submission{}, io.EOF
	default:
		return execution.Submission{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (e submissionEnvelope) toSubmission(msg kafkago.Message) (execution.Submission, error) {
	submission, err := e.Submission.ToSubmission()
	if err != nil {
		return execution.Submission{}, err
	}

	if submission.ID == "" {
		submission.ID = string(msg.Key)
	}
	if submission.ID == "" {
		submission.ID = fmt.Sprintf("%s:%d", msg.Topic, msg.Offset)
	}

	return submission, nil
}

// EncodeSubmission renders a submission message as the consumer expects it.
func EncodeSubmission(submission execution.Submission) ([]byte, error) {
	payload, err := json.Marshal(submissionEnvelope{
		Type:       messageTypeSubmission,
		Submission: wire.FromSubmission(submission),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}
	return payload, nil
}

func encodeRunReport(report execution.RunReport) ([]byte, error) {
	payload, err := json.Marshal(makeResultEnvelope(report))
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}

func makeResultEnvelope(report execution.RunReport) resultEnvelope {
	return resultEnvelope{
		ID:         report.Submission.ID,
		Outcome:    wire.FromOutcome(report.Outcome),
		DurationMs: report.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
}
