// Package experiment decodes resolved configuration documents into the typed
// parameter sets consumed by the training drivers and derives the values those
// drivers compute at start-up (replay buffer size, frame budgets, effective
// loss weights, device fallback).
package experiment

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Experiment is a typed view of one resolved document.
type Experiment interface {
	Family() string
	Check() error
	Fields() []zap.Field
}

// Task holds environment selection and meta-RL task counts.
type Task struct {
	EnvName          string `yaml:"env_name"`
	Meta             bool   `yaml:"meta"`
	MetaTrainTaskNum int    `yaml:"meta_train_task_num"`
	MetaTestTaskNum  int    `yaml:"meta_test_task_num"`
	Seed             int64  `yaml:"seed"`
}

// TrainTaskNum is the number of environments collected from in parallel.
func (t Task) TrainTaskNum() int {
	if !t.Meta || t.MetaTrainTaskNum < 1 {
		return 1
	}
	return t.MetaTrainTaskNum
}

// Budget holds the data collection knobs.
type Budget struct {
	TrainFramesPerTask int64  `yaml:"train_frames_per_task"`
	InitFramesPerTask  int64  `yaml:"init_frames_per_task"`
	FramesPerBatch     int64  `yaml:"frames_per_batch"`
	BufferSize         int64  `yaml:"buffer_size"`
	CollectorDevice    string `yaml:"collector_device"`
}

// TotalFrames is the collector's frame budget for taskNum tasks.
func (b Budget) TotalFrames(taskNum int) int64 {
	return b.TrainFramesPerTask * int64(taskNum)
}

// InitFrames is the number of random frames collected before training starts.
func (b Budget) InitFrames(taskNum int) int64 {
	return b.InitFramesPerTask * int64(taskNum)
}

// EffectiveBufferSize returns buffer_size, or the whole frame budget when it is -1.
func (b Budget) EffectiveBufferSize(taskNum int) int64 {
	if b.BufferSize == -1 {
		return b.TotalFrames(taskNum)
	}
	return b.BufferSize
}

func (b Budget) check(taskNum int) error {
	var errs []error
	if b.InitFramesPerTask > b.TrainFramesPerTask {
		errs = append(errs, fmt.Errorf("%w: init_frames_per_task (%d) exceeds train_frames_per_task (%d)",
			ErrInconsistent, b.InitFramesPerTask, b.TrainFramesPerTask))
	}
	if b.FramesPerBatch > 0 && b.TotalFrames(taskNum) > 0 && b.FramesPerBatch > b.TotalFrames(taskNum) {
		errs = append(errs, fmt.Errorf("%w: frames_per_batch (%d) exceeds the total frame budget (%d)",
			ErrInconsistent, b.FramesPerBatch, b.TotalFrames(taskNum)))
	}
	return errors.Join(errs...)
}

// Logging holds the experiment logger settings.
type Logging struct {
	Logger         string `yaml:"logger"`
	ExpName        string `yaml:"exp_name"`
	OfflineLogging bool   `yaml:"offline_logging"`
	LogInterval    int    `yaml:"log_interval"`
	RecordInterval int    `yaml:"record_interval"`
}

// Decode builds the typed view registered for family.
func Decode(family string, resolved map[string]any) (Experiment, error) {
	switch {
	case strings.HasPrefix(family, "dreamer"):
		var d Dreamer
		if err := decodeInto(resolved, &d); err != nil {
			return nil, err
		}
		d.family = family
		return &d, nil
	case strings.HasPrefix(family, "mpc"):
		var m MPC
		if err := decodeInto(resolved, &m); err != nil {
			return nil, err
		}
		m.family = family
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
}

func decodeInto(resolved map[string]any, out any) error {
	raw, err := yaml.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
