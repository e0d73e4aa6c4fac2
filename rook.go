// Package rook provides shared bookkeeping for tabular MDP methods:
// episode records and exact running action-value estimates, together with
// the greedy policies extracted from them. Estimates are kept as integer
// (sum, count) pairs so that averages compare exactly and training runs are
// reproducible from a seed.
//
// Package rook は表形式MDP手法のための共有型（エピソード記録・行動価値の
// 逐次推定・貪欲方策）を提供します。推定値は整数の (和, 回数) ペアとして
// 保持する為、平均の比較は正確であり、同じシードから完全に再現できます。
package rook

import (
	"errors"
	"fmt"

	"github.com/sw965/omw/slicesx"
)

var (
	ErrEmptyActionValues  = errors.New("ActionValuesエラー: 行動が1つも登録されていません")
	ErrNotUniqueActions   = errors.New("ActionValuesエラー: Actionsに重複した要素があります")
	ErrActionsMapMismatch = errors.New("ActionValuesエラー: ActionsとByActionのキーが一致しません")
)

// Reward is the scalar reward of a single step. Returns are undiscounted
// reward sums, so int64 gives headroom for long episodes.
//
// Rewardは1ステップの報酬です。収益は割引なしの報酬和である為、
// 長いエピソードに備えてint64を使います。
type Reward int64

type Step[S, A comparable] struct {
	State  S
	Action A
	Reward Reward
}

// Episode is the ordered record of one simulated trajectory, including the
// terminal step. It exists only for the duration of one training iteration.
//
// Episodeは1回のシミュレーション軌跡の記録で、終端ステップも含みます。
// 1回の学習イテレーションの間だけ存在します。
type Episode[S, A comparable] []Step[S, A]

// Return sums all rewards of the episode.
func (e Episode[S, A]) Return() Reward {
	g := Reward(0)
	for _, step := range e {
		g += step.Reward
	}
	return g
}

type StateAction[S, A comparable] struct {
	State  S
	Action A
}

type FirstVisitReturn[S, A comparable] struct {
	StateAction StateAction[S, A]
	Return      Reward
}

// FirstVisitReturns computes, for each state-action pair in the episode, the
// undiscounted return following the pair's earliest occurrence. Later
// occurrences of the same pair within the episode never contribute. Results
// are in earliest-occurrence order, so folding them into ordered containers
// stays deterministic.
//
// FirstVisitReturnsは、エピソード内の各状態行動ペアについて、最初の出現以降の
// 割引なし収益を求めます。同一ペアの2回目以降の出現は寄与しません。
// 結果は初出現順に並ぶ為、順序を持つ構造への畳み込みは決定的になります。
func (e Episode[S, A]) FirstVisitReturns() []FirstVisitReturn[S, A] {
	n := len(e)
	suffixReturns := make([]Reward, n)
	g := Reward(0)
	for i := n - 1; i >= 0; i-- {
		g += e[i].Reward
		suffixReturns[i] = g
	}

	ys := make([]FirstVisitReturn[S, A], 0, n)
	seen := make(map[StateAction[S, A]]struct{}, n)
	for i, step := range e {
		sa := StateAction[S, A]{State: step.State, Action: step.Action}
		if _, ok := seen[sa]; ok {
			continue
		}
		seen[sa] = struct{}{}
		ys = append(ys, FirstVisitReturn[S, A]{StateAction: sa, Return: suffixReturns[i]})
	}
	return ys
}

// Value is the running estimate of one state-action pair, held exactly as the
// total observed return and the visit count. The mean is TotalReturn/Visits;
// it is never stored as a float, so equal means compare as exactly equal.
//
// Valueは1つの状態行動ペアの逐次推定で、観測収益の総和と訪問回数を
// そのまま保持します。平均は TotalReturn/Visits であり、浮動小数としては
// 保持しない為、等しい平均は正確に等しいと判定されます。
type Value struct {
	TotalReturn int64
	Visits      int64
}

// Add folds one observed return into the estimate.
func (v *Value) Add(g Reward) {
	v.TotalReturn += int64(g)
	v.Visits += 1
}

// Merge folds another estimate into this one. (sum, count) addition is
// commutative, so merge order does not affect the result.
func (v *Value) Merge(other Value) {
	v.TotalReturn += other.TotalReturn
	v.Visits += other.Visits
}

// Mean is for display and summaries only. Comparisons must use Cmp.
func (v Value) Mean() float64 {
	if v.Visits == 0 {
		return 0.0
	}
	return float64(v.TotalReturn) / float64(v.Visits)
}

// Cmp compares the means of two estimates exactly, by integer
// cross-multiplication instead of division. Both operands must have been
// visited at least once, and |TotalReturn| × the other side's Visits must fit
// in int64; with rewards in a small range this holds far beyond any practical
// episode count.
//
// Cmpは2つの推定平均を、除算ではなく整数の交差乗算で正確に比較します。
// どちらも1回以上訪問済みである事と、|TotalReturn|×相手のVisitsが
// int64に収まる事が前提です。
func (v Value) Cmp(other Value) int {
	a := v.TotalReturn * other.Visits
	b := other.TotalReturn * v.Visits
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ActionValues holds the estimates of every action tried so far in one state.
// Actions preserves first-tried order; Greedy scans it in order and keeps the
// first maximum, so exact ties break deterministically ("arbitrary but
// deterministic") instead of depending on map iteration order.
//
// ActionValuesは1つの状態でこれまでに試された全行動の推定値を保持します。
// Actionsは初めて試された順を保ち、Greedyはその順で走査して最初の最大値を
// 採用する為、平均が完全に同値の場合もmapの反復順に依存せず決定的です。
type ActionValues[A comparable] struct {
	Actions  []A
	ByAction map[A]*Value
}

func NewActionValues[A comparable]() *ActionValues[A] {
	return &ActionValues[A]{
		Actions:  []A{},
		ByAction: map[A]*Value{},
	}
}

// Update folds one observed return into the action's estimate, registering
// the action at the back of Actions if it has not been tried before.
func (avs *ActionValues[A]) Update(action A, g Reward) {
	v, ok := avs.ByAction[action]
	if !ok {
		v = &Value{}
		avs.ByAction[action] = v
		avs.Actions = append(avs.Actions, action)
	}
	v.Add(g)
}

// Greedy returns the action with the maximum mean estimate.
//
// Greedyは平均推定値が最大の行動を返します。
func (avs *ActionValues[A]) Greedy() (A, error) {
	if len(avs.Actions) == 0 {
		var zero A
		return zero, ErrEmptyActionValues
	}

	best := avs.Actions[0]
	bestValue := *avs.ByAction[best]
	for _, action := range avs.Actions[1:] {
		v := *avs.ByAction[action]
		if v.Cmp(bestValue) == 1 {
			best = action
			bestValue = v
		}
	}
	return best, nil
}

// Merge folds another state's worth of estimates into this one. Actions
// unseen on this side are appended in the other side's order.
func (avs *ActionValues[A]) Merge(other *ActionValues[A]) {
	for _, action := range other.Actions {
		ov := other.ByAction[action]
		v, ok := avs.ByAction[action]
		if !ok {
			v = &Value{}
			avs.ByAction[action] = v
			avs.Actions = append(avs.Actions, action)
		}
		v.Merge(*ov)
	}
}

func (avs *ActionValues[A]) Clone() *ActionValues[A] {
	y := NewActionValues[A]()
	y.Merge(avs)
	return y
}

// Validate reports a structural mismatch between Actions and ByAction.
func (avs *ActionValues[A]) Validate() error {
	if len(avs.Actions) == 0 {
		return ErrEmptyActionValues
	}
	if !slicesx.IsUnique(avs.Actions) {
		return ErrNotUniqueActions
	}
	if len(avs.Actions) != len(avs.ByAction) {
		return ErrActionsMapMismatch
	}
	for _, action := range avs.Actions {
		if _, ok := avs.ByAction[action]; !ok {
			return ErrActionsMapMismatch
		}
	}
	return nil
}

// QTable is the action-value table: one ActionValues per visited state.
// It only ever grows; entries are mutated by Update and Merge alone.
//
// QTableは行動価値表で、訪問済みの状態毎にActionValuesを1つ持ちます。
// 学習中に縮む事はなく、変更はUpdateとMergeのみが行います。
type QTable[S, A comparable] map[S]*ActionValues[A]

func (q QTable[S, A]) Update(state S, action A, g Reward) {
	avs, ok := q[state]
	if !ok {
		avs = NewActionValues[A]()
		q[state] = avs
	}
	avs.Update(action, g)
}

// Merge folds another table into this one. States unseen on this side are
// cloned, never aliased, so the source table can keep being used safely.
//
// Mergeは別の表をこの表へ畳み込みます。未知の状態は複製して取り込む為、
// 引数側の表はその後も安全に使えます。
func (q QTable[S, A]) Merge(other QTable[S, A]) {
	for state, avs := range other {
		current, ok := q[state]
		if !ok {
			q[state] = avs.Clone()
			continue
		}
		current.Merge(avs)
	}
}

func (q QTable[S, A]) Validate() error {
	for state, avs := range q {
		if avs == nil {
			return fmt.Errorf("状態 %v: %w", state, ErrEmptyActionValues)
		}
		if err := avs.Validate(); err != nil {
			return fmt.Errorf("状態 %v: %w", state, err)
		}
	}
	return nil
}

// GreedyPolicy extracts the greedy action of every state in the table.
//
// GreedyPolicyは表に含まれる全状態の貪欲行動を取り出します。
func (q QTable[S, A]) GreedyPolicy() (Policy[S, A], error) {
	policy := Policy[S, A]{}
	for state, avs := range q {
		action, err := avs.Greedy()
		if err != nil {
			return nil, fmt.Errorf("状態 %v: %w", state, err)
		}
		policy[state] = action
	}
	return policy, nil
}

// Policy maps each visited state to the action currently believed best.
// A state is present iff at least one episode has visited it.
//
// Policyは訪問済みの各状態を、現時点で最良と推定される行動へ対応づけます。
type Policy[S, A comparable] map[S]A

// Get looks the state up, falling back to the given action for states no
// episode has visited yet.
func (p Policy[S, A]) Get(state S, fallback A) A {
	if action, ok := p[state]; ok {
		return action
	}
	return fallback
}
