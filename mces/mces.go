// Package mces implements tabular Monte Carlo Exploring Starts control
// (Sutton & Barto 2nd Ed. Section 5.3): episodes start from a randomized
// state-action pair, first-visit returns update an exact action-value table,
// and the greedy policy is refreshed after every episode.
//
// Package mces は表形式のモンテカルロES法（開始探査付きモンテカルロ制御）を
// 実装します。エピソードはランダムな状態行動ペアから開始し、初回訪問収益で
// 行動価値表を正確に更新し、エピソード毎に貪欲方策を更新します。
package mces

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/omw/parallel"
	"github.com/sw965/rook"
)

var (
	ErrNilLogicFunc     = errors.New("Logicエラー: フィールドの関数がnilです")
	ErrNegativeEpisodes = errors.New("エピソード数エラー: 0以上である必要があります")
	ErrEmptyRngs        = errors.New("乱数生成器エラー: 要素数が0です")
)

// ExploreStartsFunc samples the randomized starting pair of one episode.
// Every state-action pair must have nonzero probability of being returned,
// otherwise convergence to the optimal policy is not guaranteed.
//
// ExploreStartsFuncはエピソードの開始状態行動ペアをランダムに選びます。
// 全ての状態行動ペアが選ばれ得る事（開始探査の仮定）が収束の前提です。
type ExploreStartsFunc[S, A comparable] func(*rand.Rand) (S, A)

// StepFunc advances the environment one step from the given state-action
// pair. The bool reports whether the episode continues: true returns the
// successor state (reward is commonly 0), false ends the episode with the
// terminal reward. It must terminate within finitely many calls for every
// reachable trajectory; the engine enforces no step limit.
//
// StepFuncは与えられた状態行動ペアから環境を1ステップ進めます。
// boolは継続か終端かを表します。到達し得る全ての軌跡が有限ステップで
// 終端する事は呼び出し側の責務で、エンジンはステップ上限を設けません。
type StepFunc[S, A comparable] func(S, A, *rand.Rand) (S, rook.Reward, bool)

type Logic[S, A comparable] struct {
	ExploreStartsFunc ExploreStartsFunc[S, A]
	StepFunc          StepFunc[S, A]

	// DefaultAction is selected in states no episode has visited yet.
	// DefaultActionは、まだ訪問されていない状態で選択される行動。
	DefaultAction A
}

func (l Logic[S, A]) Validate() error {
	if l.ExploreStartsFunc == nil {
		return fmt.Errorf("%w: ExploreStartsFunc", ErrNilLogicFunc)
	}
	if l.StepFunc == nil {
		return fmt.Errorf("%w: StepFunc", ErrNilLogicFunc)
	}
	return nil
}

type Engine[S, A comparable] struct {
	Logic Logic[S, A]

	// OnEpisodeEndFunc, if not nil, is called with the episode index after
	// each training episode (progress reporting). It never observes the
	// tables. RunReplicas calls it concurrently from every replica.
	//
	// OnEpisodeEndFuncがnilでなければ、各エピソードの終了後に呼ばれます。
	// RunReplicasでは各レプリカから並行に呼ばれます。
	OnEpisodeEndFunc func(episodeIdx int)
}

func (e Engine[S, A]) Validate() error {
	return e.Logic.Validate()
}

// playEpisode simulates one trajectory: an exploring start, then greedy
// actions from the given policy with the default action as fallback.
// The terminal step is recorded too.
func (e Engine[S, A]) playEpisode(policy rook.Policy[S, A], rng *rand.Rand) rook.Episode[S, A] {
	state, action := e.Logic.ExploreStartsFunc(rng)
	episode := rook.Episode[S, A]{}
	for {
		next, reward, ok := e.Logic.StepFunc(state, action, rng)
		episode = append(episode, rook.Step[S, A]{State: state, Action: action, Reward: reward})
		if !ok {
			break
		}
		state = next
		action = policy.Get(state, e.Logic.DefaultAction)
	}
	return episode
}

// RunQTable trains for the given number of episodes and returns both the
// action-value table and the greedy policy. The random source is consumed
// once per exploring start and once per step, nothing more, so runs are
// reproducible from a seed as long as the callbacks are deterministic.
//
// RunQTableは指定エピソード数の学習を行い、行動価値表と貪欲方策を返します。
// 乱数は開始探査1回とステップ1回につき1回ずつしか消費しない為、
// コールバックが決定的であればシードから完全に再現できます。
func (e Engine[S, A]) RunQTable(episodes int, rng *rand.Rand) (rook.QTable[S, A], rook.Policy[S, A], error) {
	if err := e.Validate(); err != nil {
		return nil, nil, err
	}
	if episodes < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNegativeEpisodes, episodes)
	}

	q := rook.QTable[S, A]{}
	policy := rook.Policy[S, A]{}

	for i := 0; i < episodes; i++ {
		episode := e.playEpisode(policy, rng)

		// 初出現順に畳み込む事で、各状態のActions順も決定的になる
		for _, fv := range episode.FirstVisitReturns() {
			sa := fv.StateAction
			q.Update(sa.State, sa.Action, fv.Return)
			greedy, err := q[sa.State].Greedy()
			if err != nil {
				return nil, nil, err
			}
			policy[sa.State] = greedy
		}

		if e.OnEpisodeEndFunc != nil {
			e.OnEpisodeEndFunc(i)
		}
	}
	return q, policy, nil
}

// Run trains for the given number of episodes and returns the greedy policy.
// Zero episodes return an empty policy.
//
// Runは指定エピソード数の学習を行い、貪欲方策を返します。
// エピソード数が0の場合は空の方策を返します。
func (e Engine[S, A]) Run(episodes int, rng *rand.Rand) (rook.Policy[S, A], error) {
	_, policy, err := e.RunQTable(episodes, rng)
	return policy, err
}

// RunReplicas trains len(rngs) independent replicas in parallel, each for
// episodesPerReplica episodes with its own random source, then merges the
// value tables by (sum, count) addition and extracts the greedy policy of
// the merged table. The addition commutes, and the merge walks replicas in
// index order, so the result is reproducible from the seeds. Each replica
// improves only its own policy during training, so the result differs from
// a single sequential run of the same total episode count.
//
// RunReplicasはlen(rngs)個の独立なレプリカを並行に学習させ、価値表を
// (和, 回数) の加法で結合し、結合後の表から貪欲方策を取り出します。
// 加法は可換で、結合はレプリカ番号順に行う為、結果はシードから再現できます。
// 学習中は各レプリカが自分の方策のみを改善する為、同じ総エピソード数の
// 逐次実行とは結果が異なります。
func (e Engine[S, A]) RunReplicas(episodesPerReplica int, rngs []*rand.Rand) (rook.QTable[S, A], rook.Policy[S, A], error) {
	if err := e.Validate(); err != nil {
		return nil, nil, err
	}
	if episodesPerReplica < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrNegativeEpisodes, episodesPerReplica)
	}

	n := len(rngs)
	if n == 0 {
		return nil, nil, ErrEmptyRngs
	}

	qs := make([]rook.QTable[S, A], n)
	err := parallel.For(n, n, func(workerId, idx int) error {
		q, _, err := e.RunQTable(episodesPerReplica, rngs[idx])
		if err != nil {
			return err
		}
		qs[idx] = q
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	merged := rook.QTable[S, A]{}
	for _, q := range qs {
		merged.Merge(q)
	}

	if err := merged.Validate(); err != nil {
		return nil, nil, err
	}

	policy, err := merged.GreedyPolicy()
	if err != nil {
		return nil, nil, err
	}
	return merged, policy, nil
}

// Evaluation summarizes episodes played greedily without learning.
type Evaluation struct {
	Episodes    int
	TotalReturn rook.Reward
	MeanReturn  float32
	StdReturn   float32
}

// EvaluatePolicy plays the given number of episodes under the given policy
// (exploring start, then greedy actions with the default fallback) without
// mutating any table, and summarizes the episode returns. The standard
// deviation is the population form. rngs are assigned one per worker.
//
// EvaluatePolicyは与えられた方策の下でエピソードを実行し（学習はしない）、
// 収益の平均と標準偏差（母集団型）を集計します。rngsはワーカー毎に1つ
// 割り当てられます。
func (e Engine[S, A]) EvaluatePolicy(policy rook.Policy[S, A], episodes int, rngs []*rand.Rand) (Evaluation, error) {
	if err := e.Validate(); err != nil {
		return Evaluation{}, err
	}
	if episodes < 0 {
		return Evaluation{}, fmt.Errorf("%w: %d", ErrNegativeEpisodes, episodes)
	}
	if episodes == 0 {
		return Evaluation{}, nil
	}
	if len(rngs) == 0 {
		return Evaluation{}, ErrEmptyRngs
	}

	returns := make([]rook.Reward, episodes)
	err := parallel.For(episodes, len(rngs), func(workerId, idx int) error {
		rng := rngs[workerId]
		episode := e.playEpisode(policy, rng)
		returns[idx] = episode.Return()
		return nil
	})
	if err != nil {
		return Evaluation{}, err
	}

	total := rook.Reward(0)
	for _, g := range returns {
		total += g
	}
	mean := float32(total) / float32(episodes)

	ss := float32(0.0)
	for _, g := range returns {
		d := float32(g) - mean
		ss += d * d
	}
	std := math32.Sqrt(ss / float32(episodes))

	return Evaluation{
		Episodes:    episodes,
		TotalReturn: total,
		MeanReturn:  mean,
		StdReturn:   std,
	}, nil
}
