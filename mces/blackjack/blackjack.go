// Package blackjack provides the Blackjack environment of Sutton & Barto
// Example 5.3 as an instantiation of the MC-ES engine: an infinite deck,
// a dealer playing the fixed hit-below-17 policy, and the 180 nonterminal
// player states.
//
// Package blackjack はブラックジャック環境（Sutton & Barto Example 5.3）を
// MC-ESエンジン向けに提供します。デッキは無限で、ディーラーは17未満なら
// ヒットする固定方策に従い、プレイヤーの非終端状態は180通りです。
package blackjack

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/sw965/omw/mathx/randx"
	"github.com/sw965/rook"
	"github.com/sw965/rook/mces"
)

// Card identifies a rank: 0 is the ten class (10/J/Q/K), 1 the ace, and
// 2..9 the pip cards.
//
// Cardはランクを表します。0は10点札(10/J/Q/K)、1はエース、2..9は数札です。
type Card int

const (
	TenClass Card = 0
	Ace      Card = 1
)

// Value scores the card, counting the ace as 1 point.
func (c Card) Value() int {
	if c == TenClass {
		return 10
	}
	return int(c)
}

// DrawCard draws from an infinite deck: the ten class has probability 4/13,
// every other rank 1/13.
//
// DrawCardは無限デッキから1枚引きます。10点札は4/13、他のランクは各1/13です。
func DrawCard(rng *rand.Rand) Card {
	n := rng.IntN(13) - 3
	if n < 0 {
		n = 0
	}
	return Card(n)
}

type Action int

const (
	Stick Action = iota
	Hit
)

func (a Action) String() string {
	switch a {
	case Stick:
		return "S"
	case Hit:
		return "H"
	}
	return "?"
}

const (
	MinPlayerSum = 12
	MaxPlayerSum = 20
	NumStates    = 180
)

// State is the player's view of a nonterminal position: the current sum
// (12..20), the dealer's shown card, and whether the player holds a usable
// ace (an ace counted as 11 points).
//
// Stateはプレイヤーから見た非終端局面です。現在の合計(12..20)、
// ディーラーの見せ札、使用可能なエース（11点として数えているエース）の
// 有無を保持します。
type State struct {
	Sum        int
	DealerCard Card
	UsableAce  bool
}

// Index maps the state onto a unique integer in [0, 180).
func (s State) Index() int {
	i := ((s.Sum-MinPlayerSum)*10 + int(s.DealerCard)) * 2
	if s.UsableAce {
		i += 1
	}
	return i
}

// States enumerates all nonterminal states in Index order.
func States() []State {
	ys := make([]State, 0, NumStates)
	for sum := MinPlayerSum; sum <= MaxPlayerSum; sum++ {
		for dealer := Card(0); dealer <= 9; dealer++ {
			for _, ace := range []bool{false, true} {
				ys = append(ys, State{Sum: sum, DealerCard: dealer, UsableAce: ace})
			}
		}
	}
	return ys
}

// ExploreStarts samples a uniformly random nonterminal state and a fair-coin
// action, covering the whole state-action space.
//
// ExploreStartsは非終端状態を一様に、行動を公平なコインでサンプリングします。
// 全ての状態行動ペアが開始ペアになり得ます。
func ExploreStarts(rng *rand.Rand) (State, Action) {
	state := State{
		Sum:        MinPlayerSum + rng.IntN(MaxPlayerSum-MinPlayerSum+1),
		DealerCard: Card(rng.IntN(10)),
		UsableAce:  randx.Bool(rng),
	}
	action := Stick
	if randx.Bool(rng) {
		action = Hit
	}
	return state, action
}

// PlayDealer plays out the dealer's hand from the shown card and returns the
// final score. The dealer hits below 17, counts a drawn ace as 11 when that
// does not bust, and demotes a usable ace on bust. The result is in [17, 26].
//
// PlayDealerはディーラーの手を見せ札からプレイし、最終スコアを返します。
// 17未満ならヒットし、エースはバーストしない限り11点として数え、
// バースト時は使用可能なエースを1点に戻します。結果は[17, 26]に収まります。
func PlayDealer(shown Card, rng *rand.Rand) int {
	sum := 0
	usableAce := false
	card := shown
	for {
		sum += card.Value()
		if card == Ace && sum <= 11 {
			sum += 10
			usableAce = true
		} else if sum > 21 && usableAce {
			sum -= 10
			usableAce = false
		}

		if sum >= 17 {
			return sum
		}
		card = DrawCard(rng)
	}
}

// Step advances one player decision. A hit draws a card (a drawn ace counts
// 1 point) and either continues, demotes a usable ace to survive a bust, or
// busts with reward -1. Any path reaching exactly 21 stands automatically.
// A stand plays out the dealer and settles +1 / 0 / -1; a dealer bust wins.
//
// Stepはプレイヤーの1手を進めます。ヒットで引いたエースは常に1点として
// 数えます。合計がちょうど21になった場合は自動的にスタンドし、そのまま
// ディーラーとの勝負に移ります。ディーラーがバーストした場合は勝ちです。
func Step(state State, action Action, rng *rand.Rand) (State, rook.Reward, bool) {
	if action == Hit {
		state.Sum += DrawCard(rng).Value()
		if state.Sum != 21 {
			if state.Sum < 21 {
				return state, 0, true
			}
			if state.UsableAce {
				state.Sum -= 10
				state.UsableAce = false
				return state, 0, true
			}
			return State{}, -1, false
		}
		// ちょうど21の場合は自動スタンド
	}

	dealerSum := PlayDealer(state.DealerCard, rng)
	if dealerSum > 21 {
		return State{}, 1, false
	}
	switch {
	case state.Sum > dealerSum:
		return State{}, 1, false
	case state.Sum < dealerSum:
		return State{}, -1, false
	}
	return State{}, 0, false
}

// NewLogic creates the Logic instance for Blackjack. Stick is the initial
// action in states no episode has visited yet.
//
// NewLogicはブラックジャックのLogicインスタンスを作成します。
// 未訪問の状態ではStickが初期行動になります。
func NewLogic() mces.Logic[State, Action] {
	return mces.Logic[State, Action]{
		ExploreStartsFunc: ExploreStarts,
		StepFunc:          Step,
		DefaultAction:     Stick,
	}
}

func NewEngine() mces.Engine[State, Action] {
	return mces.Engine[State, Action]{
		Logic: NewLogic(),
	}
}

// FormatPolicy renders the policy as the classic two-block grid: rows are
// player sums, columns are dealer cards (X is the ten class, A the ace), the
// left block is without a usable ace and the right block with one. States
// absent from the policy render as "?".
//
// FormatPolicyは方策を2ブロックの表として整形します。行はプレイヤーの合計、
// 列はディーラーの見せ札（Xは10点札、Aはエース）で、左が使用可能なエース
// なし、右がありです。方策に存在しない状態は「?」と表示します。
func FormatPolicy(policy rook.Policy[State, Action]) string {
	var b strings.Builder
	b.WriteString("Policy (S for Stick, H for Hit):\n")
	b.WriteString("Usable ace?     No                    Yes\n")
	b.WriteString("Dealer Card     X A 2 3 4 5 6 7 8 9   X A 2 3 4 5 6 7 8 9\n")
	for sum := MinPlayerSum; sum <= MaxPlayerSum; sum++ {
		fmt.Fprintf(&b, "Player Sum %d", sum)
		for _, ace := range []bool{false, true} {
			b.WriteString("  ")
			for dealer := Card(0); dealer <= 9; dealer++ {
				state := State{Sum: sum, DealerCard: dealer, UsableAce: ace}
				symbol := "?"
				if action, ok := policy[state]; ok {
					symbol = action.String()
				}
				fmt.Fprintf(&b, " %s", symbol)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
