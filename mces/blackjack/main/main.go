package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/logrusorgru/aurora"
	"github.com/schollz/progressbar/v3"
	"github.com/seehuhn/mt19937"
	"github.com/sw965/omw/mathx/randx"
	"github.com/sw965/rook"
	"github.com/sw965/rook/mces/blackjack"
)

// seedが負数なら非決定的なPCG、そうでなければシード値から連番でメルセンヌ・ツイスタを作る。
func newRngs(seed int64, n int) []*rand.Rand {
	if seed < 0 {
		rngs, err := randx.NewPCGs(n)
		if err != nil {
			log.Fatalf("乱数生成器の作成に失敗しました: %v", err)
		}
		return rngs
	}
	rngs := make([]*rand.Rand, n)
	for i := range rngs {
		mt := mt19937.New()
		mt.Seed(seed + int64(i))
		rngs[i] = rand.New(mt)
	}
	return rngs
}

func main() {
	episodes := flag.Int("episodes", 10000000, "総エピソード数")
	seed := flag.Int64("seed", -1, "乱数シード（負数なら非決定的）")
	replicas := flag.Int("replicas", 1, "レプリカ数（2以上なら総エピソード数を等分して並列学習）")
	evalEpisodes := flag.Int("eval", 100000, "学習後に方策を評価するエピソード数（0なら評価しない）")
	chartPath := flag.String("chart", "", "状態価値ヒートマップの出力先HTMLパス（空なら出力しない）")
	flag.Parse()

	engine := blackjack.NewEngine()
	rngs := newRngs(*seed, *replicas)

	trainEpisodes := *episodes
	perReplica := 0
	if *replicas > 1 {
		perReplica = *episodes / *replicas
		trainEpisodes = perReplica * *replicas
	}

	bar := progressbar.Default(int64(trainEpisodes))
	engine.OnEpisodeEndFunc = func(_ int) {
		bar.Add(1)
	}

	var (
		q      rook.QTable[blackjack.State, blackjack.Action]
		policy rook.Policy[blackjack.State, blackjack.Action]
		err    error
	)

	start := time.Now()
	if *replicas > 1 {
		q, policy, err = engine.RunReplicas(perReplica, rngs)
	} else {
		q, policy, err = engine.RunQTable(trainEpisodes, rngs[0])
	}
	if err != nil {
		log.Fatalf("学習に失敗しました: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Print(blackjack.FormatPolicy(policy))
	fmt.Printf("%s %v\n", aurora.Yellow("学習時間:"), elapsed)

	if *evalEpisodes > 0 {
		ev, err := engine.EvaluatePolicy(policy, *evalEpisodes, rngs)
		if err != nil {
			log.Fatalf("方策評価に失敗しました: %v", err)
		}
		fmt.Printf("%s %d\n", aurora.Green("評価エピソード数:"), ev.Episodes)
		fmt.Printf("%s %.4f\n", aurora.Green("平均収益:"), ev.MeanReturn)
		fmt.Printf("%s %.4f\n", aurora.Green("収益の標準偏差:"), ev.StdReturn)
	}

	if *chartPath != "" {
		f, err := os.Create(*chartPath)
		if err != nil {
			log.Fatalf("%sを作成できませんでした: %v", *chartPath, err)
		}
		defer f.Close()

		page := blackjack.NewValuePage(q)
		if err := page.Render(f); err != nil {
			log.Fatalf("ヒートマップの描画に失敗しました: %v", err)
		}
		log.Printf("状態価値ヒートマップを%sに保存しました", *chartPath)
	}
}
