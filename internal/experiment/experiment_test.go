package experiment

import (
	"errors"
	"os"
	"testing"
)

func dreamerDoc() map[string]any {
	return map[string]any{
		"env_name":              "Heating-v0",
		"meta":                  true,
		"meta_train_task_num":   4,
		"meta_test_task_num":    2,
		"seed":                  7,
		"train_frames_per_task": 1000,
		"init_frames_per_task":  100,
		"frames_per_batch":      200,
		"buffer_size":           -1,
		"collector_device":      "cpu",
		"model_device":          "cuda:0",
		"lambda_kl":             1.0,
		"lambda_reco":           1.0,
		"lambda_reward":         0.5,
		"lambda_continue":       0.25,
		"reward_fns":            "ones",
		"termination_fns":       "",
		"world_model_lr":        6e-4,
		"batch_length":          50,
		"train_agent_frames":    2000,
		"logger":                "tensorboard",
		"exp_name":              "heating",
		"overrides":             map[string]any{"env_name": "Heating-v0"},
	}
}

func TestDecodeDreamer(t *testing.T) {
	t.Parallel()

	exp, err := Decode("dreamer_mdp", dreamerDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := exp.(*Dreamer)
	if !ok {
		t.Fatalf("expected *Dreamer, got %T", exp)
	}
	if d.Family() != "dreamer_mdp" {
		t.Fatalf("expected family dreamer_mdp, got %q", d.Family())
	}
	if d.EnvName != "Heating-v0" || d.ModelDevice != "cuda:0" || d.WorldModelLR != 6e-4 {
		t.Fatalf("unexpected decoded values: %+v", d)
	}

	taskNum := d.TrainTaskNum()
	if taskNum != 4 {
		t.Fatalf("expected 4 train tasks, got %d", taskNum)
	}
	if got := d.TotalFrames(taskNum); got != 4000 {
		t.Fatalf("expected 4000 total frames, got %d", got)
	}
	if got := d.InitFrames(taskNum); got != 400 {
		t.Fatalf("expected 400 init frames, got %d", got)
	}
	if got := d.EffectiveBufferSize(taskNum); got != 4000 {
		t.Fatalf("expected derived buffer size 4000, got %d", got)
	}
	if err := d.Check(); err != nil {
		t.Fatalf("unexpected check error: %v", err)
	}
	if len(d.Fields()) == 0 {
		t.Fatalf("expected summary fields")
	}
}

func TestEffectiveLossWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		reward      string
		termination string
		want        LossWeights
	}{
		{name: "Learned", want: LossWeights{KL: 1, Reco: 2, Reward: 3, Continue: 4}},
		{name: "KnownReward", reward: "ones", want: LossWeights{KL: 1, Reco: 2, Reward: 0, Continue: 4}},
		{name: "KnownTermination", termination: "never", want: LossWeights{KL: 1, Reco: 2, Reward: 3, Continue: 0}},
		{name: "Both", reward: "ones", termination: "never", want: LossWeights{KL: 1, Reco: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := &Dreamer{
				LambdaKL:       1,
				LambdaReco:     2,
				LambdaReward:   3,
				LambdaContinue: 4,
				RewardFns:      tt.reward,
				TerminationFns: tt.termination,
			}
			if got := d.EffectiveLossWeights(); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestExplicitBufferSize(t *testing.T) {
	t.Parallel()

	b := Budget{TrainFramesPerTask: 1000, BufferSize: 500}
	if got := b.EffectiveBufferSize(10); got != 500 {
		t.Fatalf("expected explicit buffer size 500, got %d", got)
	}
}

func TestTrainTaskNumWithoutMeta(t *testing.T) {
	t.Parallel()

	task := Task{Meta: false, MetaTrainTaskNum: 50}
	if got := task.TrainTaskNum(); got != 1 {
		t.Fatalf("expected a single task without meta, got %d", got)
	}
}

func TestDecodeMPC(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"env_name":              "CartPoleContinuous-v0",
		"meta":                  false,
		"num_candidates":        500,
		"top_k":                 50,
		"planning_horizon":      20,
		"optim_steps":           5,
		"lambda_transition":     1.0,
		"context_logits_lr":     1e-3,
		"train_frames_per_task": 1e5,
		"init_frames_per_task":  1000,
		"buffer_size":           20000,
	}
	exp, err := Decode("mpc", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := exp.(*MPC)
	if m.TrainFramesPerTask != 100000 {
		t.Fatalf("expected float frame budget to decode as 100000, got %d", m.TrainFramesPerTask)
	}
	if m.EliteFraction() != 0.1 {
		t.Fatalf("expected elite fraction 0.1, got %v", m.EliteFraction())
	}
	if err := m.Check(); err != nil {
		t.Fatalf("unexpected check error: %v", err)
	}

	m.TopK = 600
	m.InitFramesPerTask = 200000
	err = m.Check()
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	if _, err := Decode("ppo", map[string]any{}); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
	doc := dreamerDoc()
	doc["batch_length"] = "long"
	if _, err := Decode("dreamer_mdp", doc); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDreamerCheck(t *testing.T) {
	t.Parallel()

	exp, err := Decode("dreamer_mdp", dreamerDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := exp.(*Dreamer)
	d.TrainAgentFrames = 1_000_000
	d.EnvName = ""
	if err := d.Check(); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestResolveDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		requested string
		cuda      bool
		want      string
	}{
		{requested: "cuda:0", cuda: true, want: "cuda:0"},
		{requested: "cuda:1", cuda: false, want: "cpu"},
		{requested: "cuda", cuda: false, want: "cpu"},
		{requested: "auto", cuda: true, want: "cuda"},
		{requested: "auto", cuda: false, want: "cpu"},
		{requested: "mps", cuda: false, want: "mps"},
		{requested: "", cuda: true, want: "cpu"},
	}

	for _, tt := range tests {
		if got := ResolveDevice(tt.requested, tt.cuda); got != tt.want {
			t.Fatalf("ResolveDevice(%q, %v): expected %q, got %q", tt.requested, tt.cuda, tt.want, got)
		}
	}
}

type fakeInfo struct{ os.FileInfo }

func TestCUDAAvailable(t *testing.T) {
	original := statFile
	t.Cleanup(func() { statFile = original })

	statFile = func(string) (os.FileInfo, error) { return fakeInfo{}, nil }
	env := map[string]string{}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	if !CUDAAvailable(lookup) {
		t.Fatalf("expected CUDA to be available with a device node")
	}
	env["CUDA_VISIBLE_DEVICES"] = "-1"
	if CUDAAvailable(lookup) {
		t.Fatalf("expected CUDA_VISIBLE_DEVICES=-1 to mask devices")
	}

	delete(env, "CUDA_VISIBLE_DEVICES")
	statFile = func(string) (os.FileInfo, error) { return nil, os.ErrNotExist }
	if CUDAAvailable(lookup) {
		t.Fatalf("expected CUDA to be unavailable without a device node")
	}
}
