package mces_test

import (
	"errors"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/sw965/rook"
	"github.com/sw965/rook/mces"
)

// 1状態2行動のMDP。aは必ず+1、bは必ず-1で即終端する。
func newBanditEngine() mces.Engine[string, string] {
	logic := mces.Logic[string, string]{
		ExploreStartsFunc: func(rng *rand.Rand) (string, string) {
			if rng.IntN(2) == 0 {
				return "s1", "a"
			}
			return "s1", "b"
		},
		StepFunc: func(state string, action string, rng *rand.Rand) (string, rook.Reward, bool) {
			if action == "a" {
				return "", 1, false
			}
			return "", -1, false
		},
		DefaultAction: "a",
	}
	return mces.Engine[string, string]{Logic: logic}
}

// 状態0..4を進むMDP。stopは状態4でのみ+1、それ以外は-1で終端する。
// goは状態4で+1で終端、それ以外は1/5で-1で終端し、4/5で次の状態へ進む。
func newChainEngine() mces.Engine[int, string] {
	logic := mces.Logic[int, string]{
		ExploreStartsFunc: func(rng *rand.Rand) (int, string) {
			state := rng.IntN(5)
			if rng.IntN(2) == 0 {
				return state, "go"
			}
			return state, "stop"
		},
		StepFunc: func(state int, action string, rng *rand.Rand) (int, rook.Reward, bool) {
			if action == "stop" {
				if state == 4 {
					return 0, 1, false
				}
				return 0, -1, false
			}
			if state == 4 {
				return 0, 1, false
			}
			if rng.IntN(5) == 0 {
				return 0, -1, false
			}
			return state + 1, 0, true
		},
		DefaultAction: "go",
	}
	return mces.Engine[int, string]{Logic: logic}
}

func assertQTablesEqual[S, A comparable](t *testing.T, got, want rook.QTable[S, A]) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("状態数が一致しません want: %d, got: %d", len(want), len(got))
	}
	for state, wantAvs := range want {
		gotAvs, ok := got[state]
		if !ok {
			t.Fatalf("状態 %v が存在しません", state)
		}
		if !slices.Equal(gotAvs.Actions, wantAvs.Actions) {
			t.Fatalf("状態 %v のActionsが一致しません want: %v, got: %v", state, wantAvs.Actions, gotAvs.Actions)
		}
		for action, wantV := range wantAvs.ByAction {
			gotV := gotAvs.ByAction[action]
			if gotV == nil || *gotV != *wantV {
				t.Fatalf("状態 %v 行動 %v の推定値が一致しません want: %v, got: %v", state, action, wantV, gotV)
			}
		}
	}
}

func TestLogicValidate(t *testing.T) {
	valid := newBanditEngine().Logic

	tests := []struct {
		name  string
		logic mces.Logic[string, string]
		want  error
	}{
		{
			name:  "正常",
			logic: valid,
			want:  nil,
		},
		{
			name: "異常_ExploreStartsFuncがnil",
			logic: mces.Logic[string, string]{
				StepFunc:      valid.StepFunc,
				DefaultAction: "a",
			},
			want: mces.ErrNilLogicFunc,
		},
		{
			name: "異常_StepFuncがnil",
			logic: mces.Logic[string, string]{
				ExploreStartsFunc: valid.ExploreStartsFunc,
				DefaultAction:     "a",
			},
			want: mces.ErrNilLogicFunc,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Helper()
			err := tc.logic.Validate()
			if !errors.Is(err, tc.want) {
				t.Errorf("want: %v, got: %v", tc.want, err)
			}
		})
	}
}

func TestRunBandit(t *testing.T) {
	engine := newBanditEngine()
	rng := rand.New(rand.NewPCG(1, 2))

	q, policy, err := engine.RunQTable(100, rng)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	// どちらの行動も開始ペアとして何度も選ばれているはず
	avs := q["s1"]
	if !slices.Equal(avs.Actions, []string{"a", "b"}) && !slices.Equal(avs.Actions, []string{"b", "a"}) {
		t.Fatalf("両方の行動が試されていません: %v", avs.Actions)
	}

	// 報酬が行動毎に一定なので、推定値は正確にその定数になる
	a := *avs.ByAction["a"]
	b := *avs.ByAction["b"]
	if a.TotalReturn != a.Visits {
		t.Errorf("aの収益は常に+1のはず: %v", a)
	}
	if b.TotalReturn != -b.Visits {
		t.Errorf("bの収益は常に-1のはず: %v", b)
	}
	if a.Visits+b.Visits != 100 {
		t.Errorf("訪問回数の合計が一致しません: %d", a.Visits+b.Visits)
	}
	if a.Mean() != 1.0 || b.Mean() != -1.0 {
		t.Errorf("平均が定数に一致しません a: %v, b: %v", a.Mean(), b.Mean())
	}

	want := rook.Policy[string, string]{"s1": "a"}
	if !maps.Equal(policy, want) {
		t.Errorf("want: %v, got: %v", want, policy)
	}
}

func TestRunZeroEpisodes(t *testing.T) {
	engine := newChainEngine()
	rng := rand.New(rand.NewPCG(1, 2))

	policy, err := engine.Run(0, rng)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}
	if len(policy) != 0 {
		t.Errorf("空の方策のはず: %v", policy)
	}
}

func TestRunNegativeEpisodes(t *testing.T) {
	engine := newChainEngine()
	rng := rand.New(rand.NewPCG(1, 2))

	_, err := engine.Run(-1, rng)
	if !errors.Is(err, mces.ErrNegativeEpisodes) {
		t.Errorf("want: ErrNegativeEpisodes, got: %v", err)
	}
}

func TestRunDeterminism(t *testing.T) {
	engine := newChainEngine()

	q1, policy1, err := engine.RunQTable(500, rand.New(rand.NewPCG(11, 22)))
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}
	q2, policy2, err := engine.RunQTable(500, rand.New(rand.NewPCG(11, 22)))
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	if !maps.Equal(policy1, policy2) {
		t.Errorf("同じシードなのに方策が一致しません: %v, %v", policy1, policy2)
	}
	assertQTablesEqual(t, q2, q1)
}

func TestRunMonotonicCoverage(t *testing.T) {
	engine := newChainEngine()

	for _, n := range []int{0, 1, 2, 5, 10, 20} {
		prev, err := engine.Run(n, rand.New(rand.NewPCG(3, 4)))
		if err != nil {
			t.Fatalf("想定外のエラー: %v", err)
		}
		next, err := engine.Run(n+1, rand.New(rand.NewPCG(3, 4)))
		if err != nil {
			t.Fatalf("想定外のエラー: %v", err)
		}

		// 同じシードなら最初のnエピソードは同一なので、訪問済み状態は単調に増える
		for state := range prev {
			if _, ok := next[state]; !ok {
				t.Errorf("エピソード数%dで訪問済みの状態 %v が%dで消えています", n, state, n+1)
			}
		}
	}
}

func TestRunQMeansWithinRewardBounds(t *testing.T) {
	engine := newChainEngine()
	rng := rand.New(rand.NewPCG(5, 6))

	q, _, err := engine.RunQTable(1000, rng)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	// 報酬は{-1, 0, +1}なので、全ての平均推定値は[-1, 1]に収まる
	for state, avs := range q {
		for action, v := range avs.ByAction {
			if v.Visits < 1 {
				t.Errorf("状態 %v 行動 %v: 訪問回数が0です", state, action)
			}
			if mean := v.Mean(); mean < -1.0 || mean > 1.0 {
				t.Errorf("状態 %v 行動 %v: 平均 %v が報酬の範囲外です", state, action, mean)
			}
		}
	}
}

func TestRunReplicasSingleReplicaMatchesSequential(t *testing.T) {
	engine := newChainEngine()

	wantQ, wantPolicy, err := engine.RunQTable(300, rand.New(rand.NewPCG(7, 9)))
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	gotQ, gotPolicy, err := engine.RunReplicas(300, []*rand.Rand{rand.New(rand.NewPCG(7, 9))})
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	if !maps.Equal(gotPolicy, wantPolicy) {
		t.Errorf("want: %v, got: %v", wantPolicy, gotPolicy)
	}
	assertQTablesEqual(t, gotQ, wantQ)
}

func TestRunReplicasDeterminism(t *testing.T) {
	engine := newChainEngine()

	newRngs := func() []*rand.Rand {
		return []*rand.Rand{
			rand.New(rand.NewPCG(1, 10)),
			rand.New(rand.NewPCG(2, 20)),
			rand.New(rand.NewPCG(3, 30)),
		}
	}

	q1, policy1, err := engine.RunReplicas(200, newRngs())
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}
	q2, policy2, err := engine.RunReplicas(200, newRngs())
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	if !maps.Equal(policy1, policy2) {
		t.Errorf("同じシードなのに方策が一致しません: %v, %v", policy1, policy2)
	}
	assertQTablesEqual(t, q2, q1)
}

func TestRunReplicasEmptyRngs(t *testing.T) {
	engine := newChainEngine()
	_, _, err := engine.RunReplicas(10, nil)
	if !errors.Is(err, mces.ErrEmptyRngs) {
		t.Errorf("want: ErrEmptyRngs, got: %v", err)
	}
}

// 決定的な環境。開始は常に(s1, a)で、aはs2へ進み、
// s2では方策（未訪問ならDefaultActionのd）に従って終端する。
func newScriptedEngine() mces.Engine[string, string] {
	logic := mces.Logic[string, string]{
		ExploreStartsFunc: func(rng *rand.Rand) (string, string) {
			return "s1", "a"
		},
		StepFunc: func(state string, action string, rng *rand.Rand) (string, rook.Reward, bool) {
			if state == "s1" {
				return "s2", 0, true
			}
			if action == "d" {
				return "", 3, false
			}
			return "", -3, false
		},
		DefaultAction: "d",
	}
	return mces.Engine[string, string]{Logic: logic}
}

func TestEvaluatePolicy(t *testing.T) {
	engine := newScriptedEngine()
	rngs := []*rand.Rand{rand.New(rand.NewPCG(1, 2)), rand.New(rand.NewPCG(3, 4))}

	// 空の方策: s2ではDefaultActionのdが選ばれ、毎回収益3で終わる
	ev, err := engine.EvaluatePolicy(rook.Policy[string, string]{}, 10, rngs)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	want := mces.Evaluation{
		Episodes:    10,
		TotalReturn: 30,
		MeanReturn:  3.0,
		StdReturn:   0.0,
	}
	if ev != want {
		t.Errorf("want: %v, got: %v", want, ev)
	}

	// s2でbを選ぶ方策なら毎回収益-3
	ev, err = engine.EvaluatePolicy(rook.Policy[string, string]{"s2": "b"}, 4, rngs)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}

	want = mces.Evaluation{
		Episodes:    4,
		TotalReturn: -12,
		MeanReturn:  -3.0,
		StdReturn:   0.0,
	}
	if ev != want {
		t.Errorf("want: %v, got: %v", want, ev)
	}
}

func TestEvaluatePolicyZeroEpisodes(t *testing.T) {
	engine := newScriptedEngine()
	rngs := []*rand.Rand{rand.New(rand.NewPCG(1, 2))}

	ev, err := engine.EvaluatePolicy(rook.Policy[string, string]{}, 0, rngs)
	if err != nil {
		t.Fatalf("想定外のエラー: %v", err)
	}
	if ev != (mces.Evaluation{}) {
		t.Errorf("ゼロ値のはず: %v", ev)
	}
}

func TestEvaluatePolicyEmptyRngs(t *testing.T) {
	engine := newScriptedEngine()
	_, err := engine.EvaluatePolicy(rook.Policy[string, string]{}, 10, nil)
	if !errors.Is(err, mces.ErrEmptyRngs) {
		t.Errorf("want: ErrEmptyRngs, got: %v", err)
	}
}
