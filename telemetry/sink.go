package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/segmentio/kafka-go"

	"github.com/hupe1980/agentdispatch/logging"
)

// FormatDuration renders d as hh:mm:ss.fff.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

// LogSink writes each checkpoint as a structured log line.
type LogSink struct {
	Logger logging.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, checkpoints []Checkpoint) error {
	logger := logging.OrNoOp(s.Logger)
	for _, c := range checkpoints {
		logger.Debug("telemetry.checkpoint",
			"turn_id", c.TurnID,
			"area", c.Area,
			"scenario", c.Scenario,
			"elapsed_ms", c.Elapsed.Milliseconds(),
		)
	}
	return nil
}

// ConsoleSink prints checkpoints grouped by area:
//
//	Area: DispatchToAgent
//		Start Duration: 00:00:00.000
type ConsoleSink struct {
	mu    sync.Mutex
	out   io.Writer
	title *color.Color
}

// NewConsoleSink creates a console sink writing to out (stdout when nil).
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out, title: color.New(color.FgCyan, color.Bold)}
}

// Emit implements Sink.
func (s *ConsoleSink) Emit(_ context.Context, checkpoints []Checkpoint) error {
	var b strings.Builder
	for _, g := range groupByArea(checkpoints) {
		b.WriteString(s.title.Sprintf("Area: %s", g.area))
		b.WriteByte('\n')
		for _, c := range g.points {
			fmt.Fprintf(&b, "\t%s Duration: %s\n", c.Scenario, FormatDuration(c.Elapsed))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

type areaGroup struct {
	area   string
	points []Checkpoint
}

// groupByArea keeps areas in first-seen order and checkpoints in recording
// order within each area.
func groupByArea(checkpoints []Checkpoint) []areaGroup {
	var groups []areaGroup
	index := map[string]int{}
	for _, c := range checkpoints {
		i, ok := index[c.Area]
		if !ok {
			i = len(groups)
			index[c.Area] = i
			groups = append(groups, areaGroup{area: c.Area})
		}
		groups[i].points = append(groups[i].points, c)
	}
	return groups
}

// MultiSink fans out to every sink, joining their errors.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, checkpoints []Checkpoint) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, checkpoints); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MessageWriter is the part of *kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSinkOptions configures a KafkaSink.
type KafkaSinkOptions struct {
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// KafkaSink publishes one JSON message per checkpoint, keyed by turn id so
// a turn's checkpoints land on one partition in order.
type KafkaSink struct {
	writer MessageWriter
	opts   KafkaSinkOptions
}

// NewKafkaWriter builds a synchronous writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaSink creates a sink publishing through w.
func NewKafkaSink(w MessageWriter, optFns ...func(o *KafkaSinkOptions)) *KafkaSink {
	opts := KafkaSinkOptions{WriteTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &KafkaSink{writer: w, opts: opts}
}

// Emit implements Sink.
func (s *KafkaSink) Emit(ctx context.Context, checkpoints []Checkpoint) error {
	msgs := make([]kafka.Message, 0, len(checkpoints))
	for _, c := range checkpoints {
		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode checkpoint: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(c.TurnID),
			Value:   value,
			Time:    c.At,
			Headers: []kafka.Header{{Key: "area", Value: []byte(c.Area)}},
		})
	}
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.opts.Logger.Warn("telemetry.kafka.publish_failed", "count", len(msgs), "error", err.Error())
		return fmt.Errorf("publish telemetry: %w", err)
	}
	s.opts.Logger.Debug("telemetry.kafka.published", "count", len(msgs), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }
