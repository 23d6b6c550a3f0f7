package experiment

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MPC is the parameter set of the mpc family.
type MPC struct {
	Task    `yaml:",inline"`
	Budget  `yaml:",inline"`
	Logging `yaml:",inline"`

	ModelDevice          string `yaml:"model_device"`
	VariableNum          int    `yaml:"variable_num"`
	StateDimPerVariable  int    `yaml:"state_dim_per_variable"`
	HiddenDimPerVariable int    `yaml:"hidden_dim_per_variable"`

	NumCandidates   int `yaml:"num_candidates"`
	TopK            int `yaml:"top_k"`
	PlanningHorizon int `yaml:"planning_horizon"`
	OptimSteps      int `yaml:"optim_steps"`

	LambdaTransition    float64 `yaml:"lambda_transition"`
	SparseWeight        float64 `yaml:"sparse_weight"`
	ContextSparseWeight float64 `yaml:"context_sparse_weight"`
	ContextMaxWeight    float64 `yaml:"context_max_weight"`
	SamplingTimes       int     `yaml:"sampling_times"`
	RewardFns           string  `yaml:"reward_fns"`
	TerminationFns      string  `yaml:"termination_fns"`

	WorldModelLR       float64 `yaml:"world_model_lr"`
	ContextLR          float64 `yaml:"context_lr"`
	ContextLogitsLR    float64 `yaml:"context_logits_lr"`
	MaskLogitsLR       float64 `yaml:"mask_logits_lr"`
	BatchSize          int     `yaml:"batch_size"`
	OptimStepsPerBatch int     `yaml:"optim_steps_per_batch"`

	family string
}

// Family returns the family the document was composed from.
func (m *MPC) Family() string { return m.family }

// EliteFraction is the share of sampled candidates kept per planning iteration.
func (m *MPC) EliteFraction() float64 {
	if m.NumCandidates == 0 {
		return 0
	}
	return float64(m.TopK) / float64(m.NumCandidates)
}

// Check reports contradictions between planning knobs and budgets.
func (m *MPC) Check() error {
	var errs []error
	if m.EnvName == "" {
		errs = append(errs, fmt.Errorf("%w: env_name is empty", ErrInconsistent))
	}
	if m.TopK > m.NumCandidates {
		errs = append(errs, fmt.Errorf("%w: top_k (%d) exceeds num_candidates (%d)",
			ErrInconsistent, m.TopK, m.NumCandidates))
	}
	errs = append(errs, m.Budget.check(m.TrainTaskNum()))
	return errors.Join(errs...)
}

// Fields summarises the derived run parameters for logging.
func (m *MPC) Fields() []zap.Field {
	taskNum := m.TrainTaskNum()
	return []zap.Field{
		zap.String("family", m.family),
		zap.String("env", m.EnvName),
		zap.Int("taskNum", taskNum),
		zap.Int64("totalFrames", m.TotalFrames(taskNum)),
		zap.Int64("initFrames", m.InitFrames(taskNum)),
		zap.Int64("bufferSize", m.EffectiveBufferSize(taskNum)),
		zap.Int("numCandidates", m.NumCandidates),
		zap.Int("topK", m.TopK),
		zap.Int("planningHorizon", m.PlanningHorizon),
		zap.String("modelDevice", m.ModelDevice),
		zap.Int64("seed", m.Seed),
	}
}
