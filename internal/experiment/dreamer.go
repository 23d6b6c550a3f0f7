package experiment

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Dreamer is the parameter set of the dreamer_mdp family.
type Dreamer struct {
	Task    `yaml:",inline"`
	Budget  `yaml:",inline"`
	Logging `yaml:",inline"`

	ModelDevice          string `yaml:"model_device"`
	VariableNum          int    `yaml:"variable_num"`
	StateDimPerVariable  int    `yaml:"state_dim_per_variable"`
	HiddenDimPerVariable int    `yaml:"hidden_dim_per_variable"`

	LambdaKL            float64 `yaml:"lambda_kl"`
	LambdaReco          float64 `yaml:"lambda_reco"`
	LambdaReward        float64 `yaml:"lambda_reward"`
	LambdaContinue      float64 `yaml:"lambda_continue"`
	SparseWeight        float64 `yaml:"sparse_weight"`
	ContextSparseWeight float64 `yaml:"context_sparse_weight"`
	ContextMaxWeight    float64 `yaml:"context_max_weight"`
	SamplingTimes       int     `yaml:"sampling_times"`
	RewardFns           string  `yaml:"reward_fns"`
	TerminationFns      string  `yaml:"termination_fns"`

	ImaginationHorizon int  `yaml:"imagination_horizon"`
	DiscountLoss       bool `yaml:"discount_loss"`
	PredContinue       bool `yaml:"pred_continue"`

	WorldModelLR       float64 `yaml:"world_model_lr"`
	ContextLR          float64 `yaml:"context_lr"`
	MaskLogitsLR       float64 `yaml:"mask_logits_lr"`
	ActorValueLR       float64 `yaml:"actor_value_lr"`
	GradClip           float64 `yaml:"grad_clip"`
	BatchSize          int     `yaml:"batch_size"`
	BatchLength        int     `yaml:"batch_length"`
	OptimStepsPerBatch int     `yaml:"optim_steps_per_batch"`
	TrainAgentFrames   int64   `yaml:"train_agent_frames"`

	family string
}

// LossWeights are the world-model loss coefficients after known reward and
// termination functions switched their learned terms off.
type LossWeights struct {
	KL       float64
	Reco     float64
	Reward   float64
	Continue float64
}

// Family returns the family the document was composed from.
func (d *Dreamer) Family() string { return d.family }

// EffectiveLossWeights zeroes lambda_reward when reward_fns is set and
// lambda_continue when termination_fns is set.
func (d *Dreamer) EffectiveLossWeights() LossWeights {
	w := LossWeights{
		KL:       d.LambdaKL,
		Reco:     d.LambdaReco,
		Reward:   d.LambdaReward,
		Continue: d.LambdaContinue,
	}
	if d.RewardFns != "" {
		w.Reward = 0
	}
	if d.TerminationFns != "" {
		w.Continue = 0
	}
	return w
}

// Check reports contradictions between derived budgets.
func (d *Dreamer) Check() error {
	taskNum := d.TrainTaskNum()
	var errs []error
	if d.EnvName == "" {
		errs = append(errs, fmt.Errorf("%w: env_name is empty", ErrInconsistent))
	}
	errs = append(errs, d.Budget.check(taskNum))
	if d.TrainAgentFrames > d.TotalFrames(taskNum) && d.TotalFrames(taskNum) > 0 {
		errs = append(errs, fmt.Errorf("%w: train_agent_frames (%d) is never reached within %d frames",
			ErrInconsistent, d.TrainAgentFrames, d.TotalFrames(taskNum)))
	}
	return errors.Join(errs...)
}

// Fields summarises the derived run parameters for logging.
func (d *Dreamer) Fields() []zap.Field {
	taskNum := d.TrainTaskNum()
	w := d.EffectiveLossWeights()
	return []zap.Field{
		zap.String("family", d.family),
		zap.String("env", d.EnvName),
		zap.Int("taskNum", taskNum),
		zap.Int64("totalFrames", d.TotalFrames(taskNum)),
		zap.Int64("initFrames", d.InitFrames(taskNum)),
		zap.Int64("bufferSize", d.EffectiveBufferSize(taskNum)),
		zap.Float64("lambdaReward", w.Reward),
		zap.Float64("lambdaContinue", w.Continue),
		zap.String("modelDevice", d.ModelDevice),
		zap.Int64("seed", d.Seed),
	}
}
